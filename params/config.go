package params

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Engine struct {
	FeeCollector common.Address
	FeePercent   uint64 // integer percent in [0,100]
}

type Node struct {
	ListenAddr string
	DBPath     string
	LogFile    string
}

type Devnet struct {
	// Seed mints two in-process tokens and funds the faucet address so a
	// fresh node is immediately tradeable. Off in production.
	Seed   bool
	Faucet common.Address
}

type Config struct {
	Engine Engine
	Node   Node
	Devnet Devnet
}

func Default() Config {
	return Config{
		Engine: Engine{
			FeeCollector: common.HexToAddress("0xFEE0000000000000000000000000000000000000"),
			FeePercent:   10,
		},
		Node: Node{
			ListenAddr: ":8080",
			DBPath:     "data/escrowd.db",
			LogFile:    "data/escrowd.log",
		},
		Devnet: Devnet{
			Seed:   true,
			Faucet: common.HexToAddress("0xFA0CE70000000000000000000000000000000000"),
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("FEE_COLLECTOR"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("FEE_COLLECTOR: invalid address %q", v)
		}
		cfg.Engine.FeeCollector = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		p, err := strconv.ParseUint(v, 10, 64)
		if err != nil || p > 100 {
			return cfg, fmt.Errorf("FEE_PERCENT: want integer in [0,100], got %q", v)
		}
		cfg.Engine.FeePercent = p
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("DEVNET_SEED"); v != "" {
		cfg.Devnet.Seed = v == "true"
	}
	if v := os.Getenv("DEVNET_FAUCET"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("DEVNET_FAUCET: invalid address %q", v)
		}
		cfg.Devnet.Faucet = common.HexToAddress(v)
	}

	return cfg, nil
}
