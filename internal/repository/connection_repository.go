package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

// ErrDuplicateConnection is returned when a connection for the same shop
// and production domain already exists.
var ErrDuplicateConnection = errors.New("a connection for this shop and production domain already exists")

type ConnectionRepository interface {
	List() ([]*models.Connection, error)
	Get(id string) (*models.Connection, error)
	Create(conn *models.Connection, productionToken, stagingToken []byte) (*models.Connection, error)
	Update(conn *models.Connection) (*models.Connection, error)
	UpdateTokens(id string, productionToken, stagingToken []byte) error
	Tokens(id string) (productionToken, stagingToken []byte, err error)
	Delete(id string) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) List() ([]*models.Connection, error) {
	rows, err := r.db.Query("SELECT id, shop, production_domain, environment, active, created_at, updated_at FROM sync.connections ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		conn := &models.Connection{}
		if err := rows.Scan(&conn.ID, &conn.Shop, &conn.ProductionDomain, &conn.Environment, &conn.Active, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}

	return connections, rows.Err()
}

func (r *connectionRepository) Get(id string) (*models.Connection, error) {
	conn := &models.Connection{}
	err := r.db.QueryRow("SELECT id, shop, production_domain, environment, active, created_at, updated_at FROM sync.connections WHERE id = $1", id).Scan(
		&conn.ID, &conn.Shop, &conn.ProductionDomain, &conn.Environment, &conn.Active, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) Create(conn *models.Connection, productionToken, stagingToken []byte) (*models.Connection, error) {
	err := r.db.QueryRow(
		"INSERT INTO sync.connections (shop, production_domain, production_token_encrypted, staging_token_encrypted, environment, active) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at",
		conn.Shop, conn.ProductionDomain, productionToken, stagingToken, conn.Environment, conn.Active,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateConnection
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) Update(conn *models.Connection) (*models.Connection, error) {
	_, err := r.db.Exec(
		"UPDATE sync.connections SET shop = $1, production_domain = $2, environment = $3, active = $4, updated_at = NOW() WHERE id = $5",
		conn.Shop, conn.ProductionDomain, conn.Environment, conn.Active, conn.ID,
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) UpdateTokens(id string, productionToken, stagingToken []byte) error {
	_, err := r.db.Exec(
		"UPDATE sync.connections SET production_token_encrypted = COALESCE($1, production_token_encrypted), staging_token_encrypted = COALESCE($2, staging_token_encrypted), updated_at = NOW() WHERE id = $3",
		productionToken, stagingToken, id,
	)
	return err
}

func (r *connectionRepository) Tokens(id string) ([]byte, []byte, error) {
	var production, staging []byte
	err := r.db.QueryRow("SELECT production_token_encrypted, staging_token_encrypted FROM sync.connections WHERE id = $1", id).Scan(&production, &staging)
	if err != nil {
		return nil, nil, err
	}
	return production, staging, nil
}

func (r *connectionRepository) Delete(id string) error {
	res, err := r.db.Exec("DELETE FROM sync.connections WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
