package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/secretmanager/models"
	"github.com/upb/secretmanager/services"
	"github.com/upb/secretmanager/services/workflow"
	"go.uber.org/zap"
)

// MockSecretService is a mock implementation of SecretService
type MockSecretService struct {
	mock.Mock
}

func (m *MockSecretService) GetSecret(ctx context.Context, id *models.Identity, name string) (*workflow.SecretValue, error) {
	args := m.Called(ctx, id, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*workflow.SecretValue), args.Error(1)
}

func (m *MockSecretService) ListSecrets(ctx context.Context, id *models.Identity) ([]*workflow.SecretSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*workflow.SecretSummary), args.Error(1)
}

func (m *MockSecretService) AdminCreateSecret(ctx context.Context, id *models.Identity, in workflow.AdminCreateSecretInput) (*models.Request, error) {
	args := m.Called(ctx, id, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Request), args.Error(1)
}

func (m *MockSecretService) UpdateSecret(ctx context.Context, id *models.Identity, name string, in workflow.UpdateSecretInput) error {
	return m.Called(ctx, id, name, in).Error(0)
}

func (m *MockSecretService) RotateSecret(ctx context.Context, id *models.Identity, name string, payload map[string]interface{}) error {
	return m.Called(ctx, id, name, payload).Error(0)
}

func (m *MockSecretService) RetireSecret(ctx context.Context, id *models.Identity, name string) error {
	return m.Called(ctx, id, name).Error(0)
}

func secretRouter(h *SecretHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/secrets", h.HandleList)
	r.Post("/api/secrets", h.HandleCreate)
	r.Get("/api/secrets/{name}", h.HandleGet)
	r.Put("/api/secrets/{name}", h.HandleUpdate)
	r.Delete("/api/secrets/{name}", h.HandleDelete)
	r.Post("/api/secrets/{name}/rotate", h.HandleRotate)
	return r
}

func TestSecretHandler_Get(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"owner reads payload", nil, http.StatusOK},
		{"other user", services.ErrNotSecretHolder, http.StatusForbidden},
		{"retired secret", services.ErrSecretNotFound, http.StatusNotFound},
		{"store down", services.ErrStoreReadFailed.Wrap(assert.AnError), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSecretService)
			if tt.err != nil {
				svc.On("GetSecret", mock.Anything, alice, "secret-1-X").Return(nil, tt.err)
			} else {
				svc.On("GetSecret", mock.Anything, alice, "secret-1-X").
					Return(&workflow.SecretValue{Name: "secret-1-X", RequestID: 1, Data: map[string]interface{}{"password": "x"}}, nil)
			}

			w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), alice, http.MethodGet, "/api/secrets/secret-1-X", "")

			assert.Equal(t, tt.want, w.Code)
			if tt.err == nil {
				var secret workflow.SecretValue
				decodeData(t, w, &secret)
				assert.Equal(t, "x", secret.Data["password"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestSecretHandler_List(t *testing.T) {
	svc := new(MockSecretService)
	svc.On("ListSecrets", mock.Anything, bob).
		Return([]*workflow.SecretSummary{{Name: "secret-1-X", RequestID: 1, ExistsInStore: true}}, nil)

	w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), bob, http.MethodGet, "/api/secrets", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var secrets []workflow.SecretSummary
	decodeData(t, w, &secrets)
	assert.Len(t, secrets, 1)
	assert.True(t, secrets[0].ExistsInStore)
}

func TestSecretHandler_Create(t *testing.T) {
	t.Run("admin creates a secret", func(t *testing.T) {
		svc := new(MockSecretService)
		in := workflow.AdminCreateSecretInput{Name: "db-root", Data: map[string]interface{}{"password": "x"}, Description: "root creds"}
		svc.On("AdminCreateSecret", mock.Anything, root, in).
			Return(&models.Request{ID: 9, Status: models.StatusApproved}, nil)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodPost, "/api/secrets",
			`{"name":"db-root","data":{"password":"x"},"description":"root creds"}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("name taken", func(t *testing.T) {
		svc := new(MockSecretService)
		svc.On("AdminCreateSecret", mock.Anything, root, mock.Anything).Return(nil, services.ErrSecretNameTaken)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodPost, "/api/secrets",
			`{"name":"db-root","data":{"password":"x"}}`)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), `"error":"conflict"`)
	})

	t.Run("missing data", func(t *testing.T) {
		svc := new(MockSecretService)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodPost, "/api/secrets", `{"name":"db-root"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "AdminCreateSecret", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSecretHandler_Mutations(t *testing.T) {
	t.Run("update with description", func(t *testing.T) {
		svc := new(MockSecretService)
		desc := "rotated quarterly"
		svc.On("UpdateSecret", mock.Anything, root, "secret-1-X", workflow.UpdateSecretInput{
			Data:        map[string]interface{}{"password": "y"},
			Description: &desc,
		}).Return(nil)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodPut, "/api/secrets/secret-1-X",
			`{"data":{"password":"y"},"description":"rotated quarterly"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Secret updated")
		svc.AssertExpectations(t)
	})

	t.Run("rotate", func(t *testing.T) {
		svc := new(MockSecretService)
		svc.On("RotateSecret", mock.Anything, root, "secret-1-X", map[string]interface{}{"password": "z"}).Return(nil)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodPost, "/api/secrets/secret-1-X/rotate",
			`{"data":{"password":"z"}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("delete retires", func(t *testing.T) {
		svc := new(MockSecretService)
		svc.On("RetireSecret", mock.Anything, root, "secret-1-X").Return(nil)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), root, http.MethodDelete, "/api/secrets/secret-1-X", "")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Secret deleted")
		svc.AssertExpectations(t)
	})

	t.Run("non admin delete", func(t *testing.T) {
		svc := new(MockSecretService)
		svc.On("RetireSecret", mock.Anything, bob, "secret-1-X").Return(services.ErrAdminOnly)

		w := do(t, secretRouter(NewSecretHandler(svc, zap.NewNop())), bob, http.MethodDelete, "/api/secrets/secret-1-X", "")

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
