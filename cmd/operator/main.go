package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"viabill-be/internal/config"
	"viabill-be/internal/db"
	"viabill-be/internal/logger"
	"viabill-be/internal/user"

	"go.uber.org/zap"
)

// operator creates an admin API account:
//
//	OPERATOR_PASSWORD=... go run ./cmd/operator -email ops@shop.example -role admin
func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	email := flag.String("email", "", "operator email")
	role := flag.String("role", string(user.RoleAdmin), "operator role: admin or operator")
	flag.Parse()

	database, err := db.NewDatabase(cfg)
	if err != nil {
		logger.L().Fatal("database unavailable", zap.Error(err))
	}
	defer database.Close()

	svc := user.NewService(user.NewRepository(database), []byte(cfg.JWTSecret))
	u, err := register(context.Background(), svc, *email, os.Getenv("OPERATOR_PASSWORD"), *role)
	if err != nil {
		logger.L().Fatal("failed to create operator", zap.Error(err))
	}
	fmt.Printf("operator %d created (%s)\n", u.ID, u.Role)
}

func register(ctx context.Context, svc user.Service, email, password, role string) (*user.User, error) {
	if email == "" {
		return nil, errors.New("-email is required")
	}
	r := user.Role(role)
	if r != user.RoleAdmin && r != user.RoleOperator {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return svc.Register(ctx, email, password, r)
}
