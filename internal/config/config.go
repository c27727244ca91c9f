// Package config loads the operator options of a gateway node. These are the
// knobs an operator changes at runtime; process-level settings are flags.
package config

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultReplicas   = 3
	DefaultPoolWeight = 40
	DefaultCephFs     = "ceph-fs"
	DefaultAuthMode   = "cephx"
)

// Compression holds the bluestore compression options forwarded with the
// pool request. Empty values are not sent.
type Compression struct {
	Algorithm      string `yaml:"bluestore-compression-algorithm"`
	Mode           string `yaml:"bluestore-compression-mode"`
	RequiredRatio  string `yaml:"bluestore-compression-required-ratio"`
	MinBlobSize    string `yaml:"bluestore-compression-min-blob-size"`
	MinBlobSizeHdd string `yaml:"bluestore-compression-min-blob-size-hdd"`
	MinBlobSizeSsd string `yaml:"bluestore-compression-min-blob-size-ssd"`
	MaxBlobSize    string `yaml:"bluestore-compression-max-blob-size"`
	MaxBlobSizeHdd string `yaml:"bluestore-compression-max-blob-size-hdd"`
	MaxBlobSizeSsd string `yaml:"bluestore-compression-max-blob-size-ssd"`
}

type Options struct {
	PoolName    string  `yaml:"rbd-pool-name"`
	Replicas    int     `yaml:"ceph-osd-replication-count"`
	PoolWeight  float64 `yaml:"ceph-pool-weight"`
	CephFsName  string  `yaml:"cephfs-name"`
	AuthMode    string  `yaml:"auth-supported"`
	Vip         string  `yaml:"vip"`
	Compression `yaml:",inline"`
}

// Defaults returns the options used when no file exists. The pool is named
// after the application.
func Defaults(app string) Options {
	return Options{
		PoolName:   app,
		Replicas:   DefaultReplicas,
		PoolWeight: DefaultPoolWeight,
		CephFsName: DefaultCephFs,
		AuthMode:   DefaultAuthMode,
	}
}

// Load reads the options file at path. A missing file yields the defaults;
// unset keys keep their default values.
func Load(path, app string) (Options, error) {
	o := Defaults(app)
	b, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return o, nil
	case err != nil:
		return o, err
	}

	if err := yaml.Unmarshal(b, &o); err != nil {
		return o, fmt.Errorf("parse %v: %w", path, err)
	}

	if o.PoolName == "" {
		o.PoolName = app
	}

	if o.CephFsName == "" {
		o.CephFsName = DefaultCephFs
	}

	if o.AuthMode == "" {
		o.AuthMode = DefaultAuthMode
	}

	return o, nil
}

// Live holds the current options; readers always see a complete value.
type Live struct {
	v atomic.Pointer[Options]
}

func NewLive(o Options) *Live {
	l := &Live{}
	l.Set(o)
	return l
}

func (l *Live) Get() Options { return *l.v.Load() }

func (l *Live) Set(o Options) { l.v.Store(&o) }
