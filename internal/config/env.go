package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of key and whether it is non-empty.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envStr(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Printf("config: %s=%q is not a boolean, using %t", key, v, def)
	return def
}

func envInt(key string, def int) int {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v, ok := lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
