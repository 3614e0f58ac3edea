package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deltaq/core/domain"
)

// fakeS3 is an in-memory bucket satisfying the API interface.
type fakeS3 struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*params.Key] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	delete(f.objects, *params.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

func newTestStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), "test-bucket", WithClient(fake))
	require.NoError(t, err)
	return s
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestStore(t, fake)

	require.NoError(t, s.Set(ctx, "users",
		"https://example.test/users/delta?$deltatoken=D1",
		map[string]any{"run_id": "r1"}))

	link, err := s.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", link)

	state, err := s.GetMetadata(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", state.Resource)
	assert.Equal(t, "r1", state.Metadata["run_id"])
	assert.False(t, state.LastUpdated.IsZero())

	// Objects land under the default prefix.
	_, ok := fake.objects[DefaultPrefix+"users.json"]
	assert.True(t, ok)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t, newFakeS3())
	_, err := s.Get(context.Background(), "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newFakeS3())

	require.NoError(t, s.Delete(ctx, "users"))
	require.NoError(t, s.Set(ctx, "users", "link", nil))
	require.NoError(t, s.Delete(ctx, "users"))
	require.NoError(t, s.Delete(ctx, "users"))

	_, err := s.Get(ctx, "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_CustomPrefix(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s, err := NewStore(ctx, "test-bucket", WithClient(fake), WithPrefix("state/sync/"))
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "users", "link", nil))
	_, ok := fake.objects["state/sync/users.json"]
	assert.True(t, ok)
}

func TestStore_SanitisesResourceNames(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestStore(t, fake)

	require.NoError(t, s.Set(ctx, "tenants/contoso:users", "link", nil))
	_, ok := fake.objects[DefaultPrefix+"tenants_contoso_users.json"]
	assert.True(t, ok)

	link, err := s.Get(ctx, "tenants/contoso:users")
	require.NoError(t, err)
	assert.Equal(t, "link", link)
}

func TestStore_TransportFailuresSurface(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestStore(t, fake)

	fake.getErr = errors.New("access denied")
	_, err := s.Get(ctx, "users")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	fake.getErr = nil
	fake.putErr = errors.New("access denied")
	assert.Error(t, s.Set(ctx, "users", "link", nil))
}

func TestNewStore_RequiresBucket(t *testing.T) {
	_, err := NewStore(context.Background(), "", WithClient(newFakeS3()))
	assert.Error(t, err)
}
