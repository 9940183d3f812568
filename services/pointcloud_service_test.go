package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threePoints = `VERSION 0.7
FIELDS x y z intensity
SIZE 4 4 4 4
TYPE F F F F
COUNT 1 1 1 1
WIDTH 3
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 3
DATA ascii
1.5 -2 0 99
4.5 6.25 0 10
-1 8 2 0
`

func newTestService(t *testing.T, content string, opts ServiceOptions) (PointCloudService, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged_0.pcd")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	s, err := NewPointCloudService(path, opts, customlog.NewLogrusLoggerWithOutput("debug", &bytes.Buffer{}))
	require.NoError(t, err)
	return s, path
}

func TestGetPointCloud(t *testing.T) {
	s, _ := newTestService(t, threePoints, ServiceOptions{})

	xyz, err := s.GetPointCloud(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pcd.Coordinates{
		{1.5, -2, 0},
		{4.5, 6.25, 0},
		{-1, 8, 2},
	}, xyz)
}

func TestGetPointCloudBinaryFormats(t *testing.T) {
	src, err := pcd.Decode(strings.NewReader(threePoints))
	require.NoError(t, err)

	for _, format := range []pcd.Format{pcd.Binary, pcd.BinaryCompressed} {
		var buf bytes.Buffer
		require.NoError(t, pcd.Encode(&buf, src, format))

		s, _ := newTestService(t, buf.String(), ServiceOptions{})
		xyz, err := s.GetPointCloud(context.Background())
		require.NoError(t, err, format.String())
		assert.Len(t, xyz, 3)
		assert.Equal(t, pcd.Vec3{-1, 8, 2}, xyz[2])
	}
}

func TestGetPointCloudEmpty(t *testing.T) {
	s, _ := newTestService(t, "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 0\nDATA ascii\n", ServiceOptions{})

	xyz, err := s.GetPointCloud(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, xyz)
	assert.Empty(t, xyz)
}

func TestGetPointCloudErrors(t *testing.T) {
	testCases := map[string]struct {
		content  string
		expected error
	}{
		"Missing": {
			expected: ErrCloudUnavailable,
		},
		"Malformed": {
			content:  "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 5\nDATA ascii\n1 2 3\n",
			expected: pcd.ErrMalformed,
		},
		"InsufficientFields": {
			content:  "FIELDS x y\nSIZE 4 4\nTYPE F F\nPOINTS 1\nDATA ascii\n1 2\n",
			expected: pcd.ErrInsufficientFields,
		},
		"HugePointCount": {
			content:  "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 9223372036854775807\nDATA binary\n" + strings.Repeat("\x00", 12),
			expected: pcd.ErrMalformed,
		},
		"LargePointCount": {
			content:  "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 100000000000\nDATA ascii\n1 2 3\n",
			expected: pcd.ErrMalformed,
		},
	}

	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			for _, cache := range []bool{false, true} {
				s, _ := newTestService(t, tt.content, ServiceOptions{CacheEnabled: cache})
				_, err := s.GetPointCloud(context.Background())
				assert.ErrorIs(t, err, tt.expected)
			}
		})
	}
}

func TestGetPointCloudPicksUpReplacedFile(t *testing.T) {
	for _, cache := range []bool{false, true} {
		s, path := newTestService(t, "", ServiceOptions{CacheEnabled: cache})

		_, err := s.GetPointCloud(context.Background())
		require.ErrorIs(t, err, ErrCloudUnavailable)

		require.NoError(t, os.WriteFile(path, []byte(threePoints), 0644))
		require.NoError(t, os.Chtimes(path, time.Unix(1000, 0), time.Unix(1000, 0)))
		xyz, err := s.GetPointCloud(context.Background())
		require.NoError(t, err)
		assert.Len(t, xyz, 3)

		require.NoError(t, os.WriteFile(path, []byte("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nPOINTS 1\nDATA ascii\n7 8 9\n"), 0644))
		require.NoError(t, os.Chtimes(path, time.Unix(2000, 0), time.Unix(2000, 0)))
		xyz, err = s.GetPointCloud(context.Background())
		require.NoError(t, err)
		assert.Equal(t, pcd.Coordinates{{7, 8, 9}}, xyz)
	}
}

func TestGetPointCloudCache(t *testing.T) {
	s, _ := newTestService(t, threePoints, ServiceOptions{CacheEnabled: true})

	first, err := s.GetPointCloud(context.Background())
	require.NoError(t, err)
	second, err := s.GetPointCloud(context.Background())
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0], "unchanged file must be served from cache")
}

func TestGetPointCloudConcurrent(t *testing.T) {
	s, _ := newTestService(t, threePoints, ServiceOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			xyz, err := s.GetPointCloud(context.Background())
			if err == nil && len(xyz) != 3 {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestDescribe(t *testing.T) {
	s, path := newTestService(t, threePoints, ServiceOptions{})

	summary, err := s.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, path, summary.Path)
	assert.Equal(t, "ascii", summary.Format)
	assert.Equal(t, []string{"x", "y", "z", "intensity"}, summary.Fields)
	assert.Equal(t, 3, summary.Points)
	require.NotNil(t, summary.Bounds)
	assert.Equal(t, pcd.Vec3{-1, -2, 0}, summary.Bounds.Min)
	assert.Equal(t, pcd.Vec3{4.5, 8, 2}, summary.Bounds.Max)
}

func TestNewPointCloudServiceEmptyPath(t *testing.T) {
	_, err := NewPointCloudService("", ServiceOptions{}, nil)
	assert.Error(t, err)
}

func TestNewPointCloudServiceMissingFileWarnsOnce(t *testing.T) {
	var logs bytes.Buffer
	path := filepath.Join(t.TempDir(), "merged_0.pcd")
	_, err := NewPointCloudService(path, ServiceOptions{}, customlog.NewLogrusLoggerWithOutput("info", &logs))
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(logs.String(), "[WAR]"))
	assert.Contains(t, logs.String(), "not accessible yet")
}
