package mrpfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	var typeTests = []struct {
		location string
		expected FileSystemType
	}{
		{"s3://bucket/artifacts", S3},
		{".mrp/artifacts", Local},
		{"/tmp/s3://weird", Local},
		{"", Local},
	}

	for _, test := range typeTests {
		assert.Equal(t, test.expected, TypeOf(test.location), test.location)
	}
}

func TestInferLocalFilesystem(t *testing.T) {
	fs, err := InferFilesystem("./some/dir")
	assert.Nil(t, err)
	assert.IsType(t, &LocalFileSystem{}, fs)
}
