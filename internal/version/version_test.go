package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildInfo(main string, settings ...debug.BuildSetting) BuildInfoFunc {
	return func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: main}, Settings: settings}, true
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		injected string
		read     BuildInfoFunc
		want     string
		wantErr  bool
	}{
		{name: "injected wins", injected: "2024-01-31", read: buildInfo("v1.0.0"), want: "2024-01-31"},
		{
			name: "vcs time",
			read: buildInfo("(devel)",
				debug.BuildSetting{Key: "vcs.revision", Value: "abc123"},
				debug.BuildSetting{Key: "vcs.time", Value: "2023-05-01T10:00:00Z"}),
			want: "2023-05-01T10:00:00Z",
		},
		{name: "revision", read: buildInfo("(devel)", debug.BuildSetting{Key: "vcs.revision", Value: "abc123"}), want: "abc123"},
		{name: "module version", read: buildInfo("v1.2.3"), want: "v1.2.3"},
		{name: "devel only", read: buildInfo("(devel)"), wantErr: true},
		{name: "no build info", read: func() (*debug.BuildInfo, bool) { return nil, false }, wantErr: true},
		{name: "nil reader", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tt.injected, tt.read)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknown)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
