package flags

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	App          = flag.String("app", "ceph-nfs", "Application name; our storage client identity and default pool name")
	Hostname     = flag.String("hostname", hostname(), "Node hostname, used as our grace membership identity")
	Config       = flag.String("config", "/etc/nfsgw/options.yaml", "Operator options file (yaml), reloaded on SIGHUP")
	StateDir     = flag.String("statedir", "/var/lib/nfsgw", "Directory for our local convergence state")
	CephDir      = flag.String("cephdir", "/etc/ceph", "Ceph configuration directory")
	AdminConf    = flag.String("admin-conf", "/etc/nfsgw/ceph-admin.conf", "Ceph config used for pool and permission requests")
	AdminId      = flag.String("admin-id", "admin", "Ceph identity allowed to create pools and users")
	GaneshaDir   = flag.String("ganeshadir", "/etc/ganesha", "Ganesha configuration directory")
	Database     = flag.String("db", "", "Spanner database, fmt: projects/{v}/instances/{v}/databases/{v}")
	LockTable    = flag.String("locktable", "nfsgw_lock", "Spanner table for spindle lock")
	LockName     = flag.String("lockname", "nfsgw", "Lock name for spindle")
	Meta         = flag.String("meta", "nfsgw_meta", "Spanner table for shared cluster facts")
	PeerStore    = flag.String("peerstore", "spanner", "Shared peer facts store: spanner, redis, memory")
	RedisAddr    = flag.String("redis", "localhost:6379", "Redis address when -peerstore=redis")
	RedisDb      = flag.Int("redisdb", 0, "Redis database when -peerstore=redis")
	GrpcPort     = flag.String("grpcport", "8080", "Port number for gRPC (actions)")
	FleetPort    = flag.String("fleetport", "8081", "Port number for fleet management")
	HttpPort     = flag.String("httpport", "8082", "Port number for health, status and metrics")
	PublicAddr   = flag.String("public-addr", "", "Address to advertise shares on (default: first non-loopback address)")
	HaCluster    = flag.Bool("hacluster", false, "Set when an HA add-on manages the configured vip")
	PollInterval = flag.Duration("poll", time.Second*30, "Interval for polling storage and peer facts")
	Slack        = flag.String("slack", "", "Slack endpoint for notifications")
	EnvFile      = flag.String("env-file", ".env", "Optional env file, applied before the command line")
)

// Flag name -> environment variable. Command line values always win.
var envKeys = map[string]string{
	"app":         "NFSGW_APP",
	"hostname":    "NFSGW_HOSTNAME",
	"config":      "NFSGW_CONFIG",
	"statedir":    "NFSGW_STATEDIR",
	"db":          "NFSGW_SPANNER_DB",
	"peerstore":   "NFSGW_PEERSTORE",
	"redis":       "NFSGW_REDIS",
	"redisdb":     "NFSGW_REDIS_DB",
	"public-addr": "NFSGW_PUBLIC_ADDR",
	"admin-id":    "NFSGW_ADMIN_ID",
	"slack":       "SLACK_TRACEME",
}

// Parse loads the env file (if any), applies environment overrides, then
// parses the command line.
func Parse() {
	file := *EnvFile
	args := os.Args[1:]
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		switch {
		case a == "env-file" && i+1 < len(args):
			file = args[i+1]
		case strings.HasPrefix(a, "env-file="):
			file = strings.TrimPrefix(a, "env-file=")
		}
	}

	_ = godotenv.Load(file) // optional

	for name, key := range envKeys {
		if v := os.Getenv(key); v != "" {
			flag.Set(name, v)
		}
	}

	flag.Parse()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}

	return h
}
