package state

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/tele"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, DefaultClientURL, g.Config.ClientURL())
			lopt := g.Config.ListenOptions()
			assert.Equal(t, DefaultListen, lopt.StreamURL)
			assert.Equal(t, 30*time.Second, lopt.NetworkTimeout)
			sopt := g.Config.SessionOptions(g.Log)
			assert.Equal(t, 3*time.Second, sopt.AuthTimeout)
			assert.Equal(t, defaultPersistRoot, g.Config.Persist.Root)
			assert.Equal(t, filepath.Join(defaultPersistRoot, "tele"), g.Config.Tele.PersistPath)
		}, ""},

		{"client",
			`client { stream_url = "tcp://10.0.0.5:2000" auth_timeout_ms = 500 network_timeout_sec = 7 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "tcp://10.0.0.5:2000", g.Config.ClientURL())
				sopt := g.Config.SessionOptions(g.Log)
				assert.Equal(t, 500*time.Millisecond, sopt.AuthTimeout)
				assert.Equal(t, 7*time.Second, sopt.NetworkTimeout)
			},
			"",
		},

		{"device",
			`
server { listen = "tcp://127.0.0.1:2001" }
device { type = 4 id = 5 state = 1 manual = true map_width = 3 map_height = 2 }
persist { root = "/var/lib/svlink" }
tele { enable = false topic_prefix = "car" }
metrics { listen = ":9556" }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "tcp://127.0.0.1:2001", g.Config.ListenOptions().StreamURL)
				assert.Equal(t, 4, g.Config.Device.Type)
				assert.Equal(t, 5, g.Config.Device.ID)
				assert.True(t, g.Config.Device.Manual)
				assert.Equal(t, 3, g.Config.Device.MapWidth)
				assert.Equal(t, "car", g.Config.Tele.TopicPrefix)
				assert.Equal(t, "/var/lib/svlink/tele", g.Config.Tele.PersistPath)
				assert.Equal(t, ":9556", g.Config.Metrics.Listen)
			},
			"",
		},

		{"include-normalize", `
log_debug = true
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "listen-2002" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "tcp://:2002", g.Config.Server.Listen)
			}, ""},

		{"include-overwrites", `
server { listen = "tcp://:1" }
include "listen-2002" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, "tcp://:2002", g.Config.Server.Listen)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-negative", `device { task_delay_ms = -1 }`, nil, "device delay < 0 not valid"},
		{"error-map-size", `device {
map_width = 8
map_height = 8
}`, nil, "config: device map 8x8 cells > 61 not valid"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log, tele.NewStub())

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"listen-2002":  `server { listen = "tcp://:2002" }`,
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestOsFullReader(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "svlink-config-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "main.hcl"), []byte(`include "local.hcl" {}`), 0644))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "local.hcl"), []byte(`client { stream_url = "tcp://host:1" }`), 0644))

	log := log2.NewTest(t, log2.LDebug)
	cfg := MustReadConfig(log, NewOsFullReader(), filepath.Join(dir, "main.hcl"))
	assert.Equal(t, "tcp://host:1", cfg.ClientURL())
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../svlink.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	MustReadConfig(log, NewOsFullReader(), "../svlink.hcl")
}
