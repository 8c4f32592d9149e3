package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Storage struct {
	// DataDir holds the pebble database. Empty runs fully in memory.
	DataDir string
}

type Server struct {
	APIAddr     string
	MetricsAddr string
}

type Exchange struct {
	// MaxFills bounds the number of fills a single order may generate.
	MaxFills int
	// FeeSink collects trading fees.
	FeeSink common.Address
}

type Config struct {
	Storage  Storage
	Server   Server
	Exchange Exchange
	LogFile  string
}

func Default() Config {
	return Config{
		Storage: Storage{
			DataDir: "data/meridian",
		},
		Server: Server{
			APIAddr:     ":8080",
			MetricsAddr: ":9090",
		},
		Exchange: Exchange{
			MaxFills: 256,
			FeeSink:  common.HexToAddress("0x0000000000000000000000000000000000000fee"),
		},
		LogFile: "",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.Server.APIAddr = addr
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		cfg.Server.MetricsAddr = addr
	}
	if mf := os.Getenv("MAX_FILLS"); mf != "" {
		if n, err := strconv.Atoi(mf); err == nil && n > 0 {
			cfg.Exchange.MaxFills = n
		}
	}
	if sink := os.Getenv("FEE_SINK"); sink != "" && common.IsHexAddress(sink) {
		cfg.Exchange.FeeSink = common.HexToAddress(sink)
	}
	if lf := os.Getenv("LOG_FILE"); lf != "" {
		cfg.LogFile = lf
	}

	return cfg
}
