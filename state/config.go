package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/svlink/device"
	"github.com/temoto/svlink/helpers"
	"github.com/temoto/svlink/link"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	tele_config "github.com/temoto/svlink/tele/config"
)

const (
	DefaultClientURL = "tcp://127.0.0.1:2000"
	DefaultListen    = "tcp://0.0.0.0:2000"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Client struct {
		StreamURL         string `hcl:"stream_url"`
		ConnectTimeoutMs  int    `hcl:"connect_timeout_ms"`
		AuthTimeoutMs     int    `hcl:"auth_timeout_ms"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	} `hcl:"client"`

	Server struct {
		Listen            string `hcl:"listen"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	} `hcl:"server"`

	Device device.Config `hcl:"device"`

	Persist struct {
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Tele tele_config.Config `hcl:"tele"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) ListenOptions() link.ListenOptions {
	url := c.Server.Listen
	if url == "" {
		url = DefaultListen
	}
	return link.ListenOptions{
		StreamURL:      url,
		NetworkTimeout: helpers.IntSecondDefault(c.Server.NetworkTimeoutSec, link.DefaultNetworkTimeout),
	}
}

func (c *Config) ClientURL() string {
	if c.Client.StreamURL == "" {
		return DefaultClientURL
	}
	return c.Client.StreamURL
}

// SessionOptions fills timeouts, caller sets handlers and callbacks.
func (c *Config) SessionOptions(log *log2.Log) link.SessionOptions {
	return link.SessionOptions{
		Log:            log,
		ConnectTimeout: helpers.IntMillisecondDefault(c.Client.ConnectTimeoutMs, link.DefaultConnectTimeout),
		AuthTimeout:    helpers.IntMillisecondDefault(c.Client.AuthTimeoutMs, link.DefaultAuthTimeout),
		NetworkTimeout: helpers.IntSecondDefault(c.Client.NetworkTimeoutSec, link.DefaultNetworkTimeout),
	}
}

func (c *Config) validate() error {
	errs := make([]error, 0, 4)
	if c.Client.ConnectTimeoutMs < 0 || c.Client.AuthTimeoutMs < 0 || c.Client.NetworkTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("config: client timeout < 0"))
	}
	if c.Server.NetworkTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("config: server.network_timeout_sec < 0"))
	}
	if c.Device.TaskDelayMs < 0 || c.Device.TelemetryIntervalMs < 0 {
		errs = append(errs, errors.NotValidf("config: device delay < 0"))
	}
	if w, h := c.Device.MapWidth, c.Device.MapHeight; w < 0 || h < 0 {
		errs = append(errs, errors.NotValidf("config: device map size < 0"))
	} else if w > packet.MaxMapCells || h > packet.MaxMapCells || w*h > packet.MaxMapCells {
		errs = append(errs, errors.NotValidf("config: device map %dx%d cells > %d", w, h, packet.MaxMapCells))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
