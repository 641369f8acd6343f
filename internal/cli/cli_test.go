package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jwgray1010/Unsaid-sub003/internal/config"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/server"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testEnv returns an env writing to a buffer and backed by a file store in
// a temp dir. The store outlives each command so state carries across runs.
func testEnv(t *testing.T) (*env, *bytes.Buffer, *store.FileStore) {
	t.Helper()
	t.Chdir(t.TempDir())

	st, err := store.OpenFile(filepath.Join(t.TempDir(), "shared"), zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	e := &env{
		globals: &GlobalFlags{},
		version: "test",
		out:     &out,
		openStore: func(context.Context) (store.SharedStore, error) {
			return st, nil
		},
	}
	return e, &out, st
}

func TestVersionFlag(t *testing.T) {
	e, out, _ := testEnv(t)
	require.NoError(t, run(e, []string{"--version"}))
	assert.Equal(t, "tonectl test", strings.TrimSpace(out.String()))
}

func TestSubcommandsRecognized(t *testing.T) {
	for _, name := range []string{"classify", "record", "status", "pull", "clear", "ack", "keygen"} {
		t.Run(name, func(t *testing.T) {
			e, _, _ := testEnv(t)
			parser, cmds := buildParser(e)
			require.NotNil(t, cmds)
			assert.NotNil(t, parser.Find(name), name)
		})
	}
}

func TestClassify(t *testing.T) {
	e, out, _ := testEnv(t)
	require.NoError(t, run(e, []string{"classify", "--text", "you always ignore me, I panic"}))
	assert.Contains(t, out.String(), "Label:       anxious")
	assert.Contains(t, out.String(), "Subscores:")
}

func TestNewClassifier_TableDefaultLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "version": "file-1",
  "default_label": "balanced",
  "categories": [{"label": "anxious", "keywords": [{"term": "worried", "weight": 1}]}]
}`), 0o600))

	cfg := config.Default()
	cfg.Classifier.TablePath = path
	c, err := newClassifier(cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.Label("balanced"), c.Classify("", nil).Label)

	cfg.Classifier.DefaultLabel = "gentle"
	c, err = newClassifier(cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.LabelGentle, c.Classify("", nil).Label)
}

func TestClassify_JSONAndPositional(t *testing.T) {
	e, out, _ := testEnv(t)
	require.NoError(t, run(e, []string{"--json", "classify", "have", "a", "nice", "day"}))

	var res engine.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.NotEmpty(t, res.Label)
	assert.NotEmpty(t, res.TableVersion)
}

func TestClassify_RequiresText(t *testing.T) {
	e, _, _ := testEnv(t)
	assert.Error(t, run(e, []string{"classify"}))
}

func TestRecordStatusPullAck(t *testing.T) {
	e, out, st := testEnv(t)
	ctx := context.Background()

	require.NoError(t, run(e, []string{"record", "--text", "please stop, this is urgent!", "--app", "mail"}))
	assert.Contains(t, out.String(), "Recorded:    yes")

	n, err := st.Count(ctx, storage.KeyToneData)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out.Reset()
	require.NoError(t, run(e, []string{"status"}))
	assert.Contains(t, out.String(), "Pending:     2")

	out.Reset()
	require.NoError(t, run(e, []string{"pull"}))
	var pulled gateway.GetAllPendingDataResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &pulled))
	require.Len(t, pulled.ToneEvents, 1)
	require.Len(t, pulled.Interactions, 1)
	assert.Equal(t, "mail", pulled.Interactions[0].HostAppContext)

	out.Reset()
	cursor := pulled.Cursor[storage.KeyToneData]
	require.NoError(t, run(e, []string{"ack", "--cursor", storage.KeyToneData + ":" + jsonInt(cursor)}))
	assert.Contains(t, out.String(), "removed 1")

	n, err = st.Count(ctx, storage.KeyToneData)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = st.Count(ctx, storage.KeyInteractions)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the acknowledged key is removed")
}

func TestPull_Ack(t *testing.T) {
	e, _, st := testEnv(t)
	require.NoError(t, run(e, []string{"record", "--text", "thanks, that helps"}))
	require.NoError(t, run(e, []string{"pull", "--ack"}))

	data, err := gateway.New(st, zap.NewNop()).PullAll(context.Background())
	require.NoError(t, err)
	assert.True(t, data.Empty())
}

func TestRecord_RejectsRemote(t *testing.T) {
	e, _, _ := testEnv(t)
	assert.Error(t, run(e, []string{"--remote", "localhost:1", "record", "--text", "hi"}))
}

func TestClear_RequiresForce(t *testing.T) {
	e, out, _ := testEnv(t)
	require.Error(t, run(e, []string{"clear"}))
	require.NoError(t, run(e, []string{"clear", "--force"}))
	assert.Contains(t, out.String(), "Cleared at")
}

func TestAck_RequiresCursor(t *testing.T) {
	e, _, _ := testEnv(t)
	assert.Error(t, run(e, []string{"ack"}))
}

func TestStatus_NeverSynced(t *testing.T) {
	e, out, _ := testEnv(t)
	require.NoError(t, run(e, []string{"status"}))
	assert.Contains(t, out.String(), "Never synced.")
}

func TestKeygen(t *testing.T) {
	e, out, _ := testEnv(t)
	require.NoError(t, run(e, []string{"--json", "keygen"}))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, strings.HasPrefix(got["key"], "tik_"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(got["hash"]), []byte(got["key"])))
}

func TestStatus_Remote(t *testing.T) {
	e, out, st := testEnv(t)

	srv := server.NewGRPCServer(server.Options{
		Service: gateway.New(st, zap.NewNop()),
		Logger:  zap.NewNop(),
	})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.GRPC.Serve(lis)
	t.Cleanup(srv.GRPC.Stop)

	require.NoError(t, run(e, []string{"--remote", lis.Addr().String(), "--key", "tik_unused", "--json", "status"}))
	var resp gateway.GetStorageMetadataResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Nil(t, resp.Metadata)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
