// Package store is the state store of spec.md §4.1: an embedded relational
// store (Spanner, run against the local emulator for a single-process
// deployment) for experiments/jobs/agents, fronted by a handful of
// repository types. Grounded on syz-cluster/pkg/db/spanner.go.
package store

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"testing"
	"time"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	instance "cloud.google.com/go/spanner/admin/instance/apiv1"
	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/golang-migrate/migrate/v4"
	migratespanner "github.com/golang-migrate/migrate/v4/database/spanner"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

// ParsedURI breaks a Spanner database URI into the pieces the admin clients
// need (instance create, database create).
type ParsedURI struct {
	ProjectPrefix  string // projects/<project>
	InstancePrefix string // projects/<project>/instances/<instance>
	Instance       string
	Database       string
	Full           string
}

func ParseURI(uri string) (ParsedURI, error) {
	ret := ParsedURI{Full: uri}
	matches := regexp.MustCompile(`projects/(.*)/instances/(.*)/databases/(.*)`).FindStringSubmatch(uri)
	if matches == nil || len(matches) != 4 {
		return ret, fmt.Errorf("failed to parse %q as a Spanner database URI", uri)
	}
	ret.ProjectPrefix = "projects/" + matches[1]
	ret.InstancePrefix = ret.ProjectPrefix + "/instances/" + matches[2]
	ret.Instance = matches[2]
	ret.Database = matches[3]
	return ret, nil
}

func CreateInstance(ctx context.Context, uri ParsedURI) error {
	client, err := instance.NewInstanceAdminClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.GetInstance(ctx, &instancepb.GetInstanceRequest{Name: uri.InstancePrefix})
	if err != nil && spanner.ErrCode(err) == codes.NotFound {
		_, err = client.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
			Parent:     uri.ProjectPrefix,
			InstanceId: uri.Instance,
		})
		return err
	}
	return err
}

func CreateDatabase(ctx context.Context, uri ParsedURI) error {
	client, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	_, err = client.GetDatabase(ctx, &databasepb.GetDatabaseRequest{Name: uri.Full})
	if err != nil && spanner.ErrCode(err) == codes.NotFound {
		op, err := client.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
			Parent:          uri.InstancePrefix,
			CreateStatement: `CREATE DATABASE ` + uri.Database,
		})
		if err != nil {
			return err
		}
		_, err = op.Wait(ctx)
		return err
	}
	return err
}

func dropDatabase(ctx context.Context, uri ParsedURI) error {
	client, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.DropDatabase(ctx, &databasepb.DropDatabaseRequest{Database: uri.Full})
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

func RunMigrations(uri string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	driver := &migratespanner.Spanner{}
	dbDriver, err := driver.Open("spanner://" + uri + "?x-clean-statements=true")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "spanner", dbDriver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// NewTransientDB spins up a throwaway database against the Spanner
// emulator, for integration tests. Skips the test if no emulator is
// configured.
func NewTransientDB(t *testing.T) (*spanner.Client, context.Context) {
	t.Helper()
	ctx := context.Background()
	uri, err := ParseURI("projects/crater-test/instances/test-instance/" +
		fmt.Sprintf("databases/db%d", time.Now().UnixNano()))
	if err != nil {
		t.Fatal(err)
	}
	if err := CreateInstance(ctx, uri); err != nil {
		t.Skipf("no Spanner emulator available: %v", err)
	}
	if err := CreateDatabase(ctx, uri); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := dropDatabase(ctx, uri); err != nil {
			t.Logf("failed to drop test database: %v", err)
		}
	})
	client, err := spanner.NewClient(ctx, uri.Full)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)
	if err := RunMigrations(uri.Full); err != nil {
		t.Fatal(err)
	}
	return client, ctx
}

func readOne[T any](iter *spanner.RowIterator) (*T, error) {
	row, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var obj T
	if err := row.ToStruct(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func readEntities[T any](iter *spanner.RowIterator) ([]*T, error) {
	var ret []*T
	for {
		obj, err := readOne[T](iter)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			break
		}
		ret = append(ret, obj)
	}
	return ret, nil
}

// entityOps is the generic per-table helper every repository embeds, grounded
// on the teacher's genericEntityOps.
type entityOps[EntityType, KeyType any] struct {
	client   *spanner.Client
	keyField string
	table    string
}

func (e *entityOps[EntityType, KeyType]) GetByID(ctx context.Context, key KeyType) (*EntityType, error) {
	stmt := spanner.Statement{
		SQL:    "SELECT * FROM `" + e.table + "` WHERE `" + e.keyField + "` = @key",
		Params: map[string]interface{}{"key": key},
	}
	iter := e.client.Single().Query(ctx, stmt)
	defer iter.Stop()
	return readOne[EntityType](iter)
}

func (e *entityOps[EntityType, KeyType]) Insert(ctx context.Context, entity *EntityType) error {
	m, err := spanner.InsertStruct(e.table, entity)
	if err != nil {
		return err
	}
	_, err = e.client.Apply(ctx, []*spanner.Mutation{m})
	return err
}

// Update runs a read-modify-write transaction: it reads the current row,
// hands it to cb, and buffers an UpdateStruct mutation with whatever cb
// mutated. Used for compare-and-set style transitions throughout the store.
func (e *entityOps[EntityType, KeyType]) Update(ctx context.Context, key KeyType,
	cb func(*EntityType) error) error {
	_, err := e.client.ReadWriteTransaction(ctx,
		func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			stmt := spanner.Statement{
				SQL:    "SELECT * FROM `" + e.table + "` WHERE `" + e.keyField + "` = @key",
				Params: map[string]interface{}{"key": key},
			}
			iter := txn.Query(ctx, stmt)
			entity, err := readOne[EntityType](iter)
			iter.Stop()
			if err != nil {
				return err
			}
			if entity == nil {
				return ErrNotFound
			}
			if err := cb(entity); err != nil {
				return err
			}
			m, err := spanner.UpdateStruct(e.table, entity)
			if err != nil {
				return err
			}
			return txn.BufferWrite([]*spanner.Mutation{m})
		})
	return err
}

var ErrNotFound = fmt.Errorf("entity not found")
