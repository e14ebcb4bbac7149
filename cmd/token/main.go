// Package main mints a JWT with the configured secret, for bootstrapping the first admin.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aura-quiz/backend/config"
	"github.com/aura-quiz/backend/internal/auth"
	"github.com/aura-quiz/backend/internal/models"
)

func main() {
	id := flag.String("id", "", "participant id")
	name := flag.String("name", "", "display name")
	role := flag.String("role", string(models.RoleAdmin), "role: admin or participant")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "usage: token -id <participant_id> [-name <display name>] [-role admin|participant]")
		os.Exit(2)
	}
	if *role != string(models.RoleAdmin) && *role != string(models.RoleParticipant) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(*id, *name, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generate token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
