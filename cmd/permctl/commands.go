package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"admin-console/internal/application"
	"admin-console/internal/config"
	"admin-console/internal/domain"
	"admin-console/internal/infrastructure/auth"
	"admin-console/internal/platform/app"
	"admin-console/internal/ports"
)

type cli struct {
	out    io.Writer
	admin  *application.PermissionAdminService
	access *application.AccessService
	store  ports.PermissionStore
	seeder ports.Seeder
	secret string
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "catalog":
		return c.catalog(ctx)
	case "people":
		return c.people(ctx)
	case "grants":
		return c.grants(ctx, args)
	case "grant":
		return c.grant(ctx, args)
	case "revoke":
		return c.revoke(ctx, args)
	case "check":
		return c.check(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "seed":
		return c.seed(ctx, args)
	case "token":
		return c.token(args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func requirePerson(id int64) error {
	if id <= 0 {
		return errors.New("--person is required")
	}
	return nil
}

func (c *cli) catalog(ctx context.Context) error {
	perms, err := c.admin.Catalog(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tDESCRIPTION")
	for _, p := range perms {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Key, p.Description)
	}
	return w.Flush()
}

func (c *cli) people(ctx context.Context) error {
	people, err := c.admin.PeopleWithCounts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tLOGIN\tACTIVE")
	for _, p := range people {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\n", p.ID, p.FullName, p.Email, p.CanLogin, p.ActivePermissions)
	}
	return w.Flush()
}

func (c *cli) grants(ctx context.Context, args []string) error {
	fs := flags("grants")
	person := fs.Int64("person", 0, "person id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePerson(*person); err != nil {
		return err
	}
	grants, err := c.admin.PersonGrants(ctx, *person)
	if err != nil {
		return err
	}
	now := time.Now()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERMISSION\tKEY\tGRANTED\tEXPIRES\tSTATE")
	for _, g := range grants {
		key, expires := "-", "never"
		if g.Permission != nil {
			key = g.Permission.Key
		}
		if g.ExpiresAt != nil {
			expires = g.ExpiresAt.Format(time.RFC3339)
		}
		state := color.GreenString("active")
		if !g.ActiveAt(now) {
			state = color.RedString("expired")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.PermissionID, key, g.GrantedAt.Format(time.RFC3339), expires, state)
	}
	return w.Flush()
}

func (c *cli) grant(ctx context.Context, args []string) error {
	fs := flags("grant")
	person := fs.Int64("person", 0, "person id")
	permission := fs.String("permission", "", "permission id")
	expires := fs.String("expires", "", "expiry (RFC3339)")
	actorEmail := fs.String("actor", "", "email of the granting person")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePerson(*person); err != nil {
		return err
	}

	var expiresAt *time.Time
	if *expires != "" {
		t, err := time.Parse(time.RFC3339, *expires)
		if err != nil {
			return fmt.Errorf("--expires: %w", err)
		}
		expiresAt = &t
	}
	var actor *domain.Person
	if *actorEmail != "" {
		p, err := c.access.CheckLogin(ctx, domain.Identity{Email: *actorEmail})
		if err != nil {
			return fmt.Errorf("actor %s: %w", *actorEmail, err)
		}
		actor = &p
	}

	g, err := c.admin.Grant(ctx, actor, *person, *permission, expiresAt)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s granted %s to person %d\n", color.GreenString("✓"), g.Permission.Key, g.PersonID)
	return nil
}

func (c *cli) revoke(ctx context.Context, args []string) error {
	fs := flags("revoke")
	person := fs.Int64("person", 0, "person id")
	permission := fs.String("permission", "", "permission id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePerson(*person); err != nil {
		return err
	}
	if err := c.admin.Revoke(ctx, *person, *permission); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s revoked %s from person %d\n", color.GreenString("✓"), *permission, *person)
	return nil
}

func (c *cli) check(ctx context.Context, args []string) error {
	fs := flags("check")
	person := fs.Int64("person", 0, "person id")
	key := fs.String("key", "", "permission key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePerson(*person); err != nil {
		return err
	}
	ok, err := c.admin.HasPermission(ctx, *person, *key)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(c.out, "%s person %d has %s\n", color.GreenString("granted"), *person, *key)
	} else {
		fmt.Fprintf(c.out, "%s person %d lacks %s\n", color.RedString("denied"), *person, *key)
	}
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flags("login")
	email := fs.String("email", "", "email to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := c.access.CheckLogin(ctx, domain.Identity{Email: *email})
	switch {
	case errors.Is(err, domain.ErrLoginRestricted):
		fmt.Fprintf(c.out, "%s %s may not sign in\n", color.RedString("restricted"), *email)
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(c.out, "%s %s signs in as person %d\n", color.GreenString("allowed"), *email, p.ID)
	return nil
}

func (c *cli) seed(ctx context.Context, args []string) error {
	fs := flags("seed")
	file := fs.String("file", "", "seed YAML file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("--file is required")
	}
	seed, err := config.LoadSeed(*file)
	if err != nil {
		return err
	}
	if err := app.ApplySeed(ctx, seed, c.seeder, c.store); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s seeded %d permissions, %d teams, %d people\n",
		color.GreenString("✓"), len(seed.Permissions), len(seed.Teams), len(seed.People))
	return nil
}

func (c *cli) token(args []string) error {
	fs := flags("token")
	email := fs.String("email", "", "email claim")
	subject := fs.String("subject", "", "subject claim (defaults to email)")
	name := fs.String("name", "", "name claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *subject == "" {
		*subject = *email
	}
	issuer, err := auth.NewHMACVerifier(c.secret)
	if err != nil {
		return err
	}
	tok, err := issuer.Issue(domain.Identity{Subject: *subject, Email: *email, FullName: *name}, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, tok)
	return nil
}
