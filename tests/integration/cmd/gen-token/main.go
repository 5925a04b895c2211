// Command gen-token prints HS256 bearer tokens accepted by a dashboard API
// running with AUTH0_TEST_MODE=1.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	integration "dashboard/tests/integration"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "perf-user", "owner prefix when count > 1")
		start  = flag.Int("start", 1, "first owner index when count > 1")
		output = flag.String("output", "", "also write all tokens to this file as a JSON array")
	)
	flag.Parse()

	if *count < 1 || *start < 1 {
		log.Fatal("count and start must be at least 1")
	}
	if flag.NArg() > 0 && *count > 1 {
		log.Fatal("explicit owner cannot be combined with count > 1")
	}

	tokens := make([]string, *count)
	for i := range tokens {
		owner := *prefix
		switch {
		case flag.NArg() > 0:
			owner = flag.Arg(0)
		case *count > 1:
			owner = fmt.Sprintf("%s-%d", *prefix, *start+i)
		}
		tok, err := integration.TestToken(owner)
		if err != nil {
			log.Fatalf("generate token: %v", err)
		}
		tokens[i] = tok
	}

	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
