// Package identity handles registration with biometric enrollment, login,
// and user administration.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/luqmand1/TeacherClockMy/internal/cloudinary"
	"github.com/luqmand1/TeacherClockMy/internal/face"
	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

var (
	// ErrInvalidCredentials is returned on a failed login.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrValidation marks input the caller can correct, as opposed to an
	// infrastructure failure.
	ErrValidation = errors.New("invalid input")
)

const minPasswordLen = 6

// Service wires the store, the face capability, and optional photo storage.
type Service struct {
	store  store.Store
	det    face.Detector
	photos *cloudinary.Client // nil when not configured
}

// NewService creates the identity service. photos may be nil.
func NewService(st store.Store, det face.Detector, photos *cloudinary.Client) *Service {
	return &Service{store: st, det: det, photos: photos}
}

// Registration is the self-service sign-up input. Photo is the still image
// used for enrollment.
type Registration struct {
	Username   string
	Password   string
	Name       string
	Email      string
	Department string
	Photo      []byte
	PhotoName  string
}

// Register creates a teacher account with an enrolled reference embedding.
// The face model is invoked exactly once on the supplied photo; if it finds
// no face, no user is created. The stored embedding is immutable until the
// next successful re-registration.
func (s *Service) Register(ctx context.Context, reg Registration) (model.User, error) {
	if len(reg.Password) < minPasswordLen {
		return model.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}
	if len(reg.Photo) == 0 {
		return model.User{}, fmt.Errorf("%w: a profile photo is required for face recognition", ErrValidation)
	}
	if !s.det.Ready() {
		return model.User{}, face.ErrModelsNotLoaded
	}
	if _, err := s.store.GetUserByUsername(ctx, reg.Username); err == nil {
		return model.User{}, store.ErrDuplicateUsername
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, err
	}

	det, err := s.det.Detect(ctx, reg.Photo)
	if err != nil {
		if errors.Is(err, face.ErrNoFaceDetected) {
			return model.User{}, face.ErrNoFaceDetected
		}
		return model.User{}, fmt.Errorf("face processing failed: %w", err)
	}

	var photoURL string
	if s.photos != nil {
		result, err := s.photos.UploadBytes(reg.Photo, reg.PhotoName)
		if err != nil {
			// The reference photo is a convenience; enrollment already
			// succeeded, so keep going without a hosted copy.
			log.Printf("identity: photo upload failed: %v", err)
		} else {
			photoURL = result.SecureURL
		}
	}

	u := model.User{
		Username:   reg.Username,
		Password:   reg.Password,
		Role:       model.RoleTeacher,
		Name:       reg.Name,
		Email:      reg.Email,
		Department: reg.Department,
		PhotoURL:   photoURL,
		Embedding:  det.Embedding,
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return model.User{}, err
	}
	u.Enrolled = true
	return u, nil
}

// Login checks credentials. Secrets are compared as-is; hardening them is an
// explicit non-goal of this system.
func (s *Service) Login(ctx context.Context, username, password string) (model.User, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, err
	}
	if u.Password != password {
		return model.User{}, ErrInvalidCredentials
	}
	return *u, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// UpdateProfile edits a user's own display fields. The embedding and role
// are never touched here.
func (s *Service) UpdateProfile(ctx context.Context, id int64, name, email, department string) (model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if name != "" {
		u.Name = name
	}
	if email != "" {
		u.Email = email
	}
	if department != "" {
		u.Department = department
	}
	if err := s.store.UpdateUser(ctx, *u); err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// List returns the full roster.
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

// AdminCreate adds a user without enrollment; such a user cannot pass
// verification until they re-register with a photo.
func (s *Service) AdminCreate(ctx context.Context, u model.User) (model.User, error) {
	if u.Role == "" {
		u.Role = model.RoleTeacher
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// AdminUpdate replaces a user's editable fields, preserving the stored
// embedding and password when the caller leaves them blank.
func (s *Service) AdminUpdate(ctx context.Context, u model.User) (model.User, error) {
	existing, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		return model.User{}, err
	}
	u.Embedding = existing.Embedding
	if u.Password == "" {
		u.Password = existing.Password
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// AdminDelete removes a user.
func (s *Service) AdminDelete(ctx context.Context, id int64) error {
	return s.store.DeleteUser(ctx, id)
}
