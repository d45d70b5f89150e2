package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomNameFromPath(t *testing.T) {
	cases := map[string]string{
		"/ABCD":          "ABCD",
		"/ABCD/ignored":  "ABCD",
		"/":              DefaultRoomName,
		"":               DefaultRoomName,
		"/my-room":       "my-room",
		"/rooms/nested/": "rooms",
	}

	for path, want := range cases {
		require.Equal(t, want, RoomNameFromPath(path), "path %q", path)
	}
}

func TestDefaultOptionsMatchConfigDefaults(t *testing.T) {
	opts := DefaultOptions()
	require.Equal(t, 64, opts.SendBuffer)
	require.Equal(t, int64(1<<20), opts.ReadLimitBytes)
}
