// Command operator-token mints a back-office bearer token from the shared
// JWT settings, for break-glass access and local testing.
//
//	operator-token -subject ops@shop -role support
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/digistore-backend/pkg/auth"
	"github.com/angelmondragon/digistore-backend/pkg/config"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

func main() {
	subject := flag.String("subject", "", "operator identity recorded in audit entries")
	role := flag.String("role", string(enums.OperatorRoleSupport), "operator role: admin or support")
	ttl := flag.Duration("ttl", 0, "override DIGISTORE_JWT_EXPIRATION_MINUTES")
	flag.Parse()

	_ = godotenv.Load()

	var cfg config.JWTConfig
	if err := envconfig.Process(config.EnvPrefix, &cfg); err != nil {
		fail(err)
	}
	if *ttl > 0 {
		cfg.ExpirationMinutes = int((*ttl + time.Minute - 1) / time.Minute)
	}

	token, err := auth.MintAccessToken(cfg, time.Now(), auth.AccessTokenPayload{
		Subject: *subject,
		Role:    enums.OperatorRole(*role),
	})
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "operator-token:", err)
	os.Exit(1)
}
