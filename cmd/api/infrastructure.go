package main

import (
	"log"

	"github.com/vpnpay/core/config"
	"github.com/vpnpay/core/pkg/database"
	jwtpkg "github.com/vpnpay/core/pkg/jwt"
	redispkg "github.com/vpnpay/core/pkg/redis"
)

// Infrastructure holds core infrastructure clients initialized at startup.
type Infrastructure struct {
	DB           *database.DB
	Redis        *redispkg.Client
	JWTManager   *jwtpkg.Manager
	Config       *config.Config
	IsProduction bool
}

func initInfrastructure(cfg *config.Config) *Infrastructure {
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	redisClient, err := redispkg.NewClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	var jwtManager *jwtpkg.Manager
	if cfg.JWT.PrivateKey != "" {
		manager, jwtErr := jwtpkg.NewManager(cfg.JWT.PrivateKey)
		if jwtErr != nil {
			log.Fatalf("Failed to initialize JWT manager: %v", jwtErr)
		}
		jwtManager = manager
	} else {
		log.Println("WARNING: No JWT private key provided. Generating new key pair (not for production!)")
		privateKey, publicKey, keyErr := jwtpkg.GenerateRSAKeyPair()
		if keyErr != nil {
			log.Fatalf("Failed to generate RSA key pair: %v", keyErr)
		}
		log.Printf("Generated RSA key pair. Add these to your .env file:\n")
		log.Printf("JWT_PRIVATE_KEY:\n%s\n", privateKey)
		log.Printf("JWT_PUBLIC_KEY:\n%s\n", publicKey)
		manager, jwtInitErr := jwtpkg.NewManager(privateKey)
		if jwtInitErr != nil {
			log.Fatalf("Failed to initialize JWT manager: %v", jwtInitErr)
		}
		jwtManager = manager
	}

	isProduction := cfg.Server.GinMode == "release"

	return &Infrastructure{
		DB:           db,
		Redis:        redisClient,
		JWTManager:   jwtManager,
		Config:       cfg,
		IsProduction: isProduction,
	}
}
