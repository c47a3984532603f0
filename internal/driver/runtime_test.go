package driver

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"ex-mirror/pkg/mirror"
)

func TestRegistryBuildEnabled(t *testing.T) {
	t.Parallel()

	builder := func(_ context.Context, definition Definition, _ *slog.Logger) (Runtime, error) {
		if definition.Name == "broken" {
			return Runtime{}, errors.New("broken build")
		}

		return Runtime{Remote: stubRemote{}, Session: stubSession{}}, nil
	}
	registry, err := NewRegistry([]Descriptor{{Type: "stub", Builder: builder}})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	tests := []struct {
		name        string
		definitions []Definition
		wantNames   []string
		wantErr     bool
	}{
		{
			name: "skips disabled and fills names",
			definitions: []Definition{
				{Name: "main", Type: "stub", Enabled: true},
				{Name: "spare", Type: "stub"},
			},
			wantNames: []string{"main"},
		},
		{
			name:        "builder failure",
			definitions: []Definition{{Name: "broken", Type: "stub", Enabled: true}},
			wantErr:     true,
		},
		{
			name:        "unknown type",
			definitions: []Definition{{Name: "main", Type: "irc", Enabled: true}},
			wantErr:     true,
		},
		{
			name: "duplicate name",
			definitions: []Definition{
				{Name: "main", Type: "stub", Enabled: true},
				{Name: "main", Type: "stub", Enabled: true},
			},
			wantErr: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtimes, err := registry.BuildEnabled(context.Background(), testCase.definitions, slog.Default())
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected build error")
				}
				return
			}
			if err != nil {
				t.Fatalf("build enabled failed: %v", err)
			}
			if len(runtimes) != len(testCase.wantNames) {
				t.Fatalf("runtimes = %d, want %d", len(runtimes), len(testCase.wantNames))
			}
			for index, runtime := range runtimes {
				if runtime.Name != testCase.wantNames[index] {
					t.Fatalf("runtime name = %s, want %s", runtime.Name, testCase.wantNames[index])
				}
			}
		})
	}
}

func TestNewRegistryRejectsDuplicateTypes(t *testing.T) {
	t.Parallel()

	builder := func(context.Context, Definition, *slog.Logger) (Runtime, error) { return Runtime{}, nil }
	_, err := NewRegistry([]Descriptor{
		{Type: "stub", Builder: builder},
		{Type: "stub", Builder: builder},
	})
	if !errors.Is(err, mirror.ErrDriverAlreadyRegistered) {
		t.Fatalf("error = %v, want ErrDriverAlreadyRegistered", err)
	}
}

func TestRegistryRejectsIncompleteRuntime(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistry([]Descriptor{{
		Type: "stub",
		Builder: func(context.Context, Definition, *slog.Logger) (Runtime, error) {
			return Runtime{Remote: stubRemote{}}, nil
		},
	}})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}

	if _, err := registry.BuildEnabled(context.Background(), []Definition{
		{Name: "main", Type: "stub", Enabled: true},
	}, nil); err == nil {
		t.Fatal("expected nil session error")
	}
}

type stubSession struct{}

func (stubSession) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type stubRemote struct{}

func (stubRemote) Authorize(context.Context, mirror.Credential) (mirror.User, error) {
	return mirror.User{ID: 1}, nil
}

func (stubRemote) FetchDialogIndex(context.Context) ([]mirror.Peer, error) {
	return nil, nil
}

func (stubRemote) LoadDialogs(context.Context, []mirror.Peer) (mirror.Response[[]mirror.Dialog], error) {
	return mirror.Response[[]mirror.Dialog]{}, nil
}

func (stubRemote) LoadReferencedEntities(context.Context, mirror.EntityRequest) (mirror.EntityResponse, error) {
	return mirror.EntityResponse{}, nil
}

func (stubRemote) LoadGroupMembers(context.Context, mirror.OutPeer, []byte) (mirror.MembersPage, error) {
	return mirror.MembersPage{}, nil
}

func (stubRemote) GetParameters(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (stubRemote) EditParameter(context.Context, string, string) error {
	return nil
}

func (stubRemote) SubscribeUpdates(context.Context) (mirror.UpdateStream, error) {
	return nil, mirror.ErrUnsupported
}
