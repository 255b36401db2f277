package foundry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libAddr = "0x8De6DDbCd5053d32292AAA0D2105A32d108484a6"

func TestFindLibrary(t *testing.T) {
	tests := []struct {
		name     string
		toml     string
		addrFile string
		want     Library
		wantOK   bool
		wantErr  bool
	}{
		{
			name: "foundry.toml libraries",
			toml: `[profile.default]
src = "src"
libraries = ["lib/dss-exec-lib/src/DssExecLib.sol:DssExecLib:` + libAddr + `"]
`,
			want:   Library{Path: "lib/dss-exec-lib/src/DssExecLib.sol", Name: "DssExecLib", Address: libAddr},
			wantOK: true,
		},
		{
			name: "other profile",
			toml: `[profile.ci]
libraries = ["src/DssExecLib.sol:DssExecLib:` + libAddr + `"]
`,
			want:   Library{Path: "src/DssExecLib.sol", Name: "DssExecLib", Address: libAddr},
			wantOK: true,
		},
		{
			name:     "address file fallback",
			toml:     "[profile.default]\nsrc = \"src\"\n",
			addrFile: libAddr + "\n",
			want:     Library{Path: "src/DssExecLib.sol", Name: "DssExecLib", Address: libAddr},
			wantOK:   true,
		},
		{
			name:   "undecodable toml uses scan",
			toml:   "libraries = [\"src/DssExecLib.sol:DssExecLib:" + libAddr + "\"]\n[[[broken",
			want:   Library{Path: "src/DssExecLib.sol", Name: "DssExecLib", Address: libAddr},
			wantOK: true,
		},
		{
			name:   "no library",
			toml:   "[profile.default]\n",
			wantOK: false,
		},
		{
			name:     "bad address file",
			addrFile: "0x1234",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.toml != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "foundry.toml"), []byte(tt.toml), 0o644))
			}
			if tt.addrFile != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "DssExecLib.address"), []byte(tt.addrFile), 0o644))
			}

			lib, ok, err := NewProject(dir).FindLibrary("DssExecLib")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, lib)
		})
	}
}

func TestLibraryString(t *testing.T) {
	lib := Library{Path: "src/DssExecLib.sol", Name: "DssExecLib", Address: libAddr}
	assert.Equal(t, "src/DssExecLib.sol:DssExecLib:"+libAddr, lib.String())
}
