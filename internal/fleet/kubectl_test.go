package fleet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountRunningPods(t *testing.T) {
	t.Parallel()

	podsJSON := []byte(`{
		"items": [
			{"metadata": {"name": "runner-abc"}, "status": {"phase": "Running"}},
			{"metadata": {"name": "runner-def"}, "status": {"phase": "Pending"}},
			{"metadata": {"name": "runner-ghi"}, "status": {"phase": "Running"}},
			{"metadata": {"name": "runner-jkl"}, "status": {"phase": "Succeeded"}}
		]
	}`)

	n, err := countRunningPods(podsJSON)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCountRunningPods_Empty(t *testing.T) {
	t.Parallel()

	n, err := countRunningPods([]byte(`{"items": []}`))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCountRunningPods_BadJSON(t *testing.T) {
	t.Parallel()

	_, err := countRunningPods([]byte(`not json`))
	require.Error(t, err)
}
