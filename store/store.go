package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	models "github.com/PierreRoudaut/checkout-api/model"
)

// ErrDuplicateName returned when a product name collides with an existing row.
var ErrDuplicateName = errors.New("product name already exists")

// PostgresStore is a Store backed by Postgres.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// CreateProduct inserts a product and returns its id
func (s *PostgresStore) CreateProduct(p models.Product) (int64, error) {
	var id int64
	err := s.DB.QueryRow(
		`INSERT INTO products (name, description, price, stock, image_url) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL,
	).Scan(&id)
	if err != nil && isUniqueViolation(err) {
		return 0, ErrDuplicateName
	}
	return id, err
}

// UpdateProduct rewrites every catalog column of an existing row.
func (s *PostgresStore) UpdateProduct(p models.Product) error {
	res, err := s.DB.Exec(
		`UPDATE products SET name=$1, description=$2, price=$3, stock=$4, image_url=$5 WHERE id=$6`,
		p.Name, p.Description, p.Price, p.Stock, p.ImageURL, p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return err
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(id int64) error {
	res, err := s.DB.Exec(`DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Find(id int64) (models.Product, error) {
	var p models.Product
	var desc, imageURL sql.NullString
	err := s.DB.QueryRow(
		`SELECT id, name, description, price, stock, image_url FROM products WHERE id=$1`, id,
	).Scan(&p.ID, &p.Name, &desc, &p.Price, &p.Stock, &imageURL)
	if err != nil {
		return models.Product{}, err
	}
	p.Description = desc.String
	p.ImageURL = imageURL.String
	return p, nil
}

func (s *PostgresStore) Exists(id int64) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(`SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ListProducts() ([]models.Product, error) {
	rows, err := s.DB.Query(`SELECT id, name, description, price, stock, image_url FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Product{}
	for rows.Next() {
		var p models.Product
		var desc, imageURL sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Price, &p.Stock, &imageURL); err != nil {
			return nil, err
		}
		p.Description = desc.String
		p.ImageURL = imageURL.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
