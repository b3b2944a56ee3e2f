// Package identity answers the one identity question the order workflow asks: does a user exist.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/orders/internal/platform/config"
)

const defaultLookupTimeout = 5 * time.Second

type userGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// FirebaseDirectory looks users up in Firebase Authentication. Accounts are keyed by the decimal
// form of the numeric user id; disabled accounts count as missing.
type FirebaseDirectory struct {
	client  userGetter
	timeout time.Duration
}

// NewFirebaseDirectory initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseDirectory(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseDirectory, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase directory: project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase directory: initialise app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase directory: initialise auth client: %w", err)
	}
	return &FirebaseDirectory{client: client, timeout: defaultLookupTimeout}, nil
}

// UserExists implements services.UserDirectory.
func (d *FirebaseDirectory) UserExists(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	record, err := d.client.GetUser(ctx, strconv.FormatInt(userID, 10))
	switch {
	case firebaseauth.IsUserNotFound(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("firebase directory: get user %d: %w", userID, err)
	}
	return record != nil && !record.Disabled, nil
}
