package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luqmand1/TeacherClockMy/internal/face"
	"github.com/luqmand1/TeacherClockMy/internal/model"
	"github.com/luqmand1/TeacherClockMy/internal/store"
)

type stubDetector struct {
	noFace bool
	ready  bool
	calls  int
}

func (d *stubDetector) Detect(ctx context.Context, image []byte) (*face.Detection, error) {
	d.calls++
	if d.noFace {
		return nil, face.ErrNoFaceDetected
	}
	return &face.Detection{Embedding: model.Embedding{0.1, 0.2, 0.3}}, nil
}

func (d *stubDetector) Distance(a, b model.Embedding) float64 {
	return face.EuclideanDistance(a, b)
}

func (d *stubDetector) Ready() bool { return d.ready }

func validRegistration() Registration {
	return Registration{
		Username:   "teacher9",
		Password:   "secret123",
		Name:       "Cikgu Baru",
		Email:      "baru@smkpu.edu.my",
		Department: "History",
		Photo:      []byte("jpeg-bytes"),
		PhotoName:  "face.jpg",
	}
}

func TestRegisterEnrollsEmbedding(t *testing.T) {
	mem := store.NewMemory()
	det := &stubDetector{ready: true}
	svc := NewService(mem, det, nil)

	u, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	require.Equal(t, model.RoleTeacher, u.Role)
	require.True(t, u.Enrolled)
	require.Equal(t, 1, det.calls, "the model is invoked exactly once")

	stored, err := mem.GetUserByUsername(context.Background(), "teacher9")
	require.NoError(t, err)
	require.Equal(t, model.Embedding{0.1, 0.2, 0.3}, stored.Embedding)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, &stubDetector{ready: true}, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	_, err = svc.Register(ctx, validRegistration())
	require.ErrorIs(t, err, store.ErrDuplicateUsername)

	users, err := mem.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1, "no second user is created")
}

func TestRegisterNoFaceCreatesNothing(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, &stubDetector{ready: true, noFace: true}, nil)

	_, err := svc.Register(context.Background(), validRegistration())
	require.ErrorIs(t, err, face.ErrNoFaceDetected)

	users, err := mem.ListUsers(context.Background())
	require.NoError(t, err)
	require.Empty(t, users)
}

func TestRegisterModelsNotLoaded(t *testing.T) {
	svc := NewService(store.NewMemory(), &stubDetector{ready: false}, nil)
	_, err := svc.Register(context.Background(), validRegistration())
	require.ErrorIs(t, err, face.ErrModelsNotLoaded)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(store.NewMemory(), &stubDetector{ready: true}, nil)
	ctx := context.Background()

	short := validRegistration()
	short.Password = "abc"
	_, err := svc.Register(ctx, short)
	require.ErrorIs(t, err, ErrValidation)

	noPhoto := validRegistration()
	noPhoto.Photo = nil
	_, err = svc.Register(ctx, noPhoto)
	require.ErrorIs(t, err, ErrValidation)
}

func TestLogin(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, &stubDetector{ready: true}, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	u, err := svc.Login(ctx, "teacher9", "secret123")
	require.NoError(t, err)
	require.Equal(t, "teacher9", u.Username)

	_, err = svc.Login(ctx, "teacher9", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateProfilePreservesEmbedding(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, &stubDetector{ready: true}, nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	updated, err := svc.UpdateProfile(ctx, u.ID, "New Name", "", "Geography")
	require.NoError(t, err)
	require.Equal(t, "New Name", updated.Name)
	require.Equal(t, "baru@smkpu.edu.my", updated.Email)
	require.Equal(t, "Geography", updated.Department)

	stored, err := mem.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.Embedding, "profile edits never touch the embedding")
}

func TestAdminUpdateKeepsSecrets(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, &stubDetector{ready: true}, nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, validRegistration())
	require.NoError(t, err)

	edit := u
	edit.Password = ""
	edit.Department = "Science"
	_, err = svc.AdminUpdate(ctx, edit)
	require.NoError(t, err)

	stored, err := mem.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "secret123", stored.Password)
	require.Equal(t, "Science", stored.Department)
	require.NotEmpty(t, stored.Embedding)
}
