package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		agrees    int
		disagrees int
		expected  int
	}{
		{"no votes", 0, 0, 0},
		{"only agrees", 3, 0, 100},
		{"only disagrees", 0, 2, 0},
		{"two thirds", 2, 1, 67},
		{"half", 1, 1, 50},
		{"one third", 1, 2, 33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.agrees, tt.disagrees)
			assert.Equal(t, tt.expected, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestApplyVote(t *testing.T) {
	m := New(TypeDanger, 50.45, 30.52, "shelling", "", nil, "device-a")
	assert.Equal(t, 1, m.Agrees)
	assert.Equal(t, 100, m.ConfidenceScore)

	before := m.LastVerified
	m.ApplyVote(VoteDisagree)

	assert.Equal(t, 1, m.Agrees)
	assert.Equal(t, 1, m.Disagrees)
	assert.Equal(t, 50, m.ConfidenceScore)
	assert.GreaterOrEqual(t, m.LastVerified, before)
}

func TestMaxMergeTwoOfflineCreations(t *testing.T) {
	// Два устройства офлайн создали по danger-маркеру в одной точке:
	// после слияния остается agrees=1, а не 2.
	local := New(TypeDanger, 50.45010, 30.52340, "mines", "", nil, "device-a")
	remote := New(TypeDanger, 50.45015, 30.52342, "mines", "", nil, "device-b")
	remote.SyncState = SyncStateSynced

	merged := MaxMerge{}.Merge(local, remote)

	assert.Equal(t, remote.ID, merged.ID)
	assert.Equal(t, remote.CreatedBy, merged.CreatedBy)
	assert.Equal(t, 1, merged.Agrees)
	assert.Equal(t, 0, merged.Disagrees)
	assert.Equal(t, 100, merged.ConfidenceScore)
}

func TestMaxMergeTakesMaxCounters(t *testing.T) {
	local := Marker{ID: "l", Agrees: 4, Disagrees: 1, Description: "short"}
	remote := Marker{ID: "r", Agrees: 2, Disagrees: 3, Description: "much longer description"}

	merged := MaxMerge{}.Merge(local, remote)

	assert.Equal(t, "r", merged.ID)
	assert.Equal(t, 4, merged.Agrees)
	assert.Equal(t, 3, merged.Disagrees)
	assert.Equal(t, Confidence(4, 3), merged.ConfidenceScore)
	assert.Equal(t, "much longer description", merged.Description)
}

func TestMaxMergeKeepsLongerDescriptionAndNewerVerification(t *testing.T) {
	local := Marker{Description: "detailed local note", LastVerified: 2000}
	remote := Marker{Description: "brief", LastVerified: 1000}

	merged := MaxMerge{}.Merge(local, remote)

	assert.Equal(t, "detailed local note", merged.Description)
	assert.Equal(t, int64(2000), merged.LastVerified)
}

func TestMaxMergeIdempotent(t *testing.T) {
	local := Marker{Agrees: 3, Disagrees: 2, Description: "aaa", LastVerified: 5}
	remote := Marker{Agrees: 1, Disagrees: 4, Description: "bb", LastVerified: 9}

	once := MaxMerge{}.Merge(local, remote)
	twice := MaxMerge{}.Merge(local, once)

	assert.Equal(t, once, twice)
}

func TestValidType(t *testing.T) {
	for _, typ := range []Type{TypeSafe, TypeDanger, TypeUncertain, TypeMedical,
		TypeFood, TypeShelter, TypeCheckpoint, TypeCombat} {
		assert.True(t, ValidType(typ))
	}
	assert.False(t, ValidType("radiation"))
	assert.False(t, ValidType(""))
}
