package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"golang.org/x/sync/singleflight"
)

// ErrCloudUnavailable is returned when the point cloud file is missing or
// cannot be read.
var ErrCloudUnavailable = errors.New("point cloud file unavailable")

// PointCloudService serves the coordinates of one point cloud file.
type PointCloudService interface {
	GetPointCloud(ctx context.Context) (pcd.Coordinates, error)
	Describe(ctx context.Context) (*CloudSummary, error)
	Path() string
}

// ServiceOptions tunes a PointCloudService.
type ServiceOptions struct {
	// CacheEnabled keeps the last decoded cloud until the file's
	// modification time or size changes.
	CacheEnabled bool
}

// CloudSummary describes the served file without its points.
type CloudSummary struct {
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	Version   float32   `json:"version"`
	Fields    []string  `json:"fields"`
	Size      []int     `json:"size"`
	Type      []string  `json:"type"`
	Count     []int     `json:"count"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Points    int       `json:"points"`
	Viewpoint []float32 `json:"viewpoint"`
	Modified  time.Time `json:"modified"`
	Bounds    *Bounds   `json:"bounds,omitempty"`
}

// Bounds is the axis-aligned box around the finite coordinates.
type Bounds struct {
	Min pcd.Vec3 `json:"min"`
	Max pcd.Vec3 `json:"max"`
}

type snapshot struct {
	key      string
	modified time.Time
	cloud    *pcd.PointCloud
	xyz      pcd.Coordinates
}

// pointCloudService implements the PointCloudService interface.
type pointCloudService struct {
	path   string
	opts   ServiceOptions
	logger customlog.Logger

	group  singleflight.Group
	mu     sync.RWMutex
	cached *snapshot
}

// NewPointCloudService creates a service reading the file at path.
// The file is not required to exist yet; every request looks it up again.
func NewPointCloudService(path string, opts ServiceOptions, logger customlog.Logger) (PointCloudService, error) {
	if path == "" {
		return nil, fmt.Errorf("point cloud path cannot be empty")
	}
	if logger == nil {
		logger, _ = customlog.NewLogrusLogger("info", "")
		logger.Warnf("No logger provided to PointCloudService, using default.")
	}

	s := &pointCloudService{
		path:   path,
		opts:   opts,
		logger: logger.WithField("file", path),
	}

	if _, err := os.Stat(path); err != nil {
		s.logger.Warnf("Point cloud file is not accessible yet: %v", err)
	} else {
		s.logger.Infof("PointCloudService initialized (cache enabled: %v)", opts.CacheEnabled)
	}
	return s, nil
}

func (s *pointCloudService) Path() string {
	return s.path
}

// GetPointCloud returns one coordinate triple per point, in file order.
// The returned slice may be shared with other callers and must not be modified.
func (s *pointCloudService) GetPointCloud(ctx context.Context) (pcd.Coordinates, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.xyz, nil
}

// Describe returns the header of the file and the bounds of its points.
func (s *pointCloudService) Describe(ctx context.Context) (*CloudSummary, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	// The snapshot may be cached, hand out copies of its slices.
	h := snap.cloud.Clone()
	summary := &CloudSummary{
		Path:      s.path,
		Format:    snap.cloud.Format.String(),
		Version:   h.Version,
		Fields:    h.Fields,
		Size:      h.Size,
		Type:      h.Type,
		Count:     h.Count,
		Width:     h.Width,
		Height:    h.Height,
		Points:    snap.cloud.Points,
		Viewpoint: h.Viewpoint,
		Modified:  snap.modified,
	}
	if min, max, err := pcd.MinMax(snap.xyz); err == nil {
		summary.Bounds = &Bounds{Min: min, Max: max}
	}
	return summary, nil
}

func (s *pointCloudService) load(ctx context.Context) (*snapshot, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCloudUnavailable, err)
	}
	key := fmt.Sprintf("%s:%d:%d", s.path, info.ModTime().UnixNano(), info.Size())

	if s.opts.CacheEnabled {
		s.mu.RLock()
		snap := s.cached
		s.mu.RUnlock()
		if snap != nil && snap.key == key {
			s.logger.Debugf("Serving cached point cloud")
			return snap, nil
		}
	}

	// Concurrent requests for the same file version share one decode.
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.read(key, info.ModTime())
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		snap := res.Val.(*snapshot)
		if s.opts.CacheEnabled {
			s.mu.Lock()
			s.cached = snap
			s.mu.Unlock()
		}
		return snap, nil
	}
}

func (s *pointCloudService) read(key string, modified time.Time) (*snapshot, error) {
	start := time.Now()

	f, err := os.Open(s.path)
	if err != nil {
		s.logger.Errorf("Error opening point cloud file: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrCloudUnavailable, err)
	}
	defer f.Close()

	pc, err := pcd.Decode(f)
	if err != nil {
		s.logger.Errorf("Error decoding point cloud file: %v", err)
		if errors.Is(err, pcd.ErrMalformed) {
			return nil, fmt.Errorf("error decoding '%s': %w", s.path, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCloudUnavailable, err)
	}

	xyz, err := pcd.XYZ(pc)
	if err != nil {
		s.logger.Errorf("Error projecting point cloud: %v", err)
		return nil, fmt.Errorf("error projecting '%s': %w", s.path, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"points":  pc.Points,
		"format":  pc.Format,
		"elapsed": time.Since(start),
	}).Infof("Decoded point cloud")

	return &snapshot{key: key, modified: modified, cloud: pc, xyz: xyz}, nil
}
