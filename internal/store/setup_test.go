package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
	"github.com/safar/dental-lab-orders/internal/models"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := database.Migrate(db, "../../migrations", database.Up); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

type fixture struct {
	store   *Store
	engine  *lifecycle.Engine
	clinic  *models.Clinic
	other   *models.Clinic
	admin   *models.User
	tech    *models.User
	client  *models.User
	product *models.Product
}

func newFixture(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	s := New(db)
	logger, _ := logtest.NewNullLogger()

	f := &fixture{store: s, engine: lifecycle.New(s, lifecycle.WithLogger(logger))}

	var err error
	if f.clinic, err = s.CreateClinic(ctx, "Clinica Sonrisas", "contacto@sonrisas.pe", "Dra. Rojas"); err != nil {
		t.Fatalf("Create clinic: %v", err)
	}
	if f.other, err = s.CreateClinic(ctx, "Dental Norte", "", ""); err != nil {
		t.Fatalf("Create other clinic: %v", err)
	}
	if f.admin, err = s.CreateUser(ctx, "Ana Admin", "admin@lab.pe", models.UserAdmin, nil); err != nil {
		t.Fatalf("Create admin: %v", err)
	}
	if f.tech, err = s.CreateUser(ctx, "Tito Tecnico", "tecnico@lab.pe", models.UserTechnician, nil); err != nil {
		t.Fatalf("Create technician: %v", err)
	}
	if f.client, err = s.CreateUser(ctx, "Clara Cliente", "clara@sonrisas.pe", models.UserClient, &f.clinic.ID); err != nil {
		t.Fatalf("Create client: %v", err)
	}
	if f.product, err = s.CreateProduct(ctx, "Corona zirconio", decimal.RequireFromString("150.00"), "zirconio", 5); err != nil {
		t.Fatalf("Create product: %v", err)
	}

	return f
}

func (f *fixture) createOrder(t *testing.T, clinicID int64, patient string) *models.Order {
	t.Helper()
	delivery := time.Now().AddDate(0, 0, 7)

	order, err := f.engine.CreateOrder(context.Background(), lifecycle.CreateOrderInput{
		ClinicID:     clinicID,
		PatientName:  patient,
		DeliveryDate: &delivery,
		FileURLs:     []string{"https://files.example/scan.stl"},
		Items: []lifecycle.LineItemInput{
			{ProductID: f.product.ID, DentalPieces: []int64{11, 21}, Quantity: 2},
		},
		CreatorID: f.admin.ID,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return order
}
