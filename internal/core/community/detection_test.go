package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentsBridgeMergesTriangles(t *testing.T) {
	nodes, links := triangles(true)
	got := Clusters(Components{}.Assign(nodes, links), 2)
	assert.Equal(t, [][]string{{"1", "2", "3", "4", "5", "6"}}, got)
}

func TestComponentsLabelIsSmallestMember(t *testing.T) {
	labels := Components{}.Assign([]string{"t2", "t1", "e:x", "t3"}, []Link{{"t1", "e:x"}, {"t2", "e:x"}})
	assert.Equal(t, "e:x", labels["t1"])
	assert.Equal(t, "e:x", labels["t2"])
	assert.Equal(t, "t3", labels["t3"])
}

func TestNewDetector(t *testing.T) {
	assert.IsType(t, Components{}, NewDetector("components"))
	assert.IsType(t, &LabelPropagation{}, NewDetector("lpa"))
}

func TestClustersDropsSmallGroups(t *testing.T) {
	got := Clusters(map[string]string{"a": "x", "b": "x", "c": "c"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}}, got)
}
