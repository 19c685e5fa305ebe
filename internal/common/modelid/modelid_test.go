package modelid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("coco/3")
	require.NoError(t, err)
	assert.Equal(t, ID{DatasetID: "coco", VersionID: "3"}, id)
	assert.Equal(t, "coco/3", id.String())
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "coco", "coco/", "/3", "coco/3/extra", "/"} {
		_, err := Parse(in)
		assert.Error(t, err, "Parse(%q)", in)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.Equal(t, "doctr_det/db_resnet50", MustParse("doctr_det/db_resnet50").String())
}
