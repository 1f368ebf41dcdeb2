package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/teapot/internal/model"
	"github.com/iurnickita/teapot/internal/store/config"
)

type Store interface {
	Ping(ctx context.Context) error
	Close() error
	UserGet(ctx context.Context, id string) (model.User, error)
	CustomerGet(ctx context.Context, id int) (model.Customer, error)
	CustomerCreate(ctx context.Context, id int) (model.Customer, error)
	TransactionGetByCustomer(ctx context.Context, customer int, since time.Time) ([]model.Transaction, error)
	TransactionGetAll(ctx context.Context, since time.Time) ([]model.Transaction, error)
	TransactionPurchase(ctx context.Context, tx model.Transaction, since time.Time, check CheckFunc) (model.Transaction, error)
	StockGet(ctx context.Context) (int, error)
	StockLogGet(ctx context.Context, limit int) ([]model.Transaction, error)
	StockIncrease(ctx context.Context, amount int, createdBy string) (model.Transaction, error)
	StockDecrease(ctx context.Context, amount int, createdBy string) (model.Transaction, error)
}

// CheckFunc is called with the customer's in-window transactions while the
// customer row is locked. A non-nil error aborts the insert.
type CheckFunc func(window []model.Transaction) error

var (
	ErrNoRows            = errors.New("no rows")
	ErrAlreadyExists     = errors.New("already exists")
	ErrQuantityIncorrect = errors.New("quantity value is incorrect")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const pgUniqueViolation = "23505"

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// newStore создает схему; при ошибке соединение закрывается
func newStore(db *sql.DB) (Store, error) {
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &store{
		database: db,
	}, nil
}

func createSchema(db *sql.DB) error {
	// Сотрудники. id - идентификатор во внешнем сервисе аутентификации
	_, err := db.Exec(
		"CREATE TABLE IF NOT EXISTS users (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" email VARCHAR (255) NOT NULL," +
			" username VARCHAR (50) NOT NULL UNIQUE," +
			" role VARCHAR (20) NOT NULL CHECK (role IN ('admin', 'inventory', 'customer'))," +
			" created_at TIMESTAMPTZ NOT NULL DEFAULT now()," +
			" updated_at TIMESTAMPTZ NOT NULL DEFAULT now()" +
			" );")
	if err != nil {
		return err
	}

	// Покупатели
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS customers (" +
			" id INTEGER PRIMARY KEY," +
			" name VARCHAR (100)," +
			" created_at TIMESTAMPTZ NOT NULL DEFAULT now()" +
			" );")
	if err != nil {
		return err
	}

	// Журнал транзакций. Записи только добавляются,
	// остаток склада и квота покупателя считаются по журналу
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS transactions (" +
			" id BIGSERIAL PRIMARY KEY," +
			" customer_id INTEGER NOT NULL REFERENCES customers (id)," +
			" quantity INTEGER NOT NULL," +
			" created_at TIMESTAMPTZ NOT NULL DEFAULT now()," +
			" created_by VARCHAR (50)" +
			" );")
	if err != nil {
		return err
	}
	_, err = db.Exec(
		"CREATE INDEX IF NOT EXISTS transactions_customer_created_idx" +
			" ON transactions (customer_id, created_at DESC);")
	if err != nil {
		return err
	}

	// Учетная запись склада
	_, err = db.Exec(
		"INSERT INTO customers (id, name) VALUES ($1, 'inventory')"+
			" ON CONFLICT (id) DO NOTHING",
		model.ReservedCustomerID)
	if err != nil {
		return err
	}
	return nil
}

func (store *store) Ping(ctx context.Context) error {
	return store.database.PingContext(ctx)
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) UserGet(ctx context.Context, id string) (model.User, error) {
	var user model.User
	var role string
	row := store.database.QueryRowContext(ctx,
		"SELECT id, email, username, role FROM users"+
			" WHERE id = $1",
		id)
	err := row.Scan(&user.ID, &user.Data.Email, &user.Data.Username, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNoRows
		}
		return model.User{}, err
	}
	user.Data.Role = model.Role(role)
	return user, nil
}

func (store *store) CustomerGet(ctx context.Context, id int) (model.Customer, error) {
	var customer model.Customer
	var name sql.NullString
	row := store.database.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM customers"+
			" WHERE id = $1",
		id)
	err := row.Scan(&customer.ID, &name, &customer.Data.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Customer{}, ErrNoRows
		}
		return model.Customer{}, err
	}
	customer.Data.Name = name.String
	return customer, nil
}

func (store *store) CustomerCreate(ctx context.Context, id int) (model.Customer, error) {
	// created_at назначает сервер
	customer := model.Customer{ID: id}
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO customers (id, name)"+
			" VALUES ($1, NULL)"+
			" RETURNING created_at",
		id)
	err := row.Scan(&customer.Data.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.Customer{}, ErrAlreadyExists
		}
		return model.Customer{}, err
	}
	return customer, nil
}

const transactionColumns = "t.id, t.customer_id, c.name, t.quantity, t.created_at, t.created_by"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var tx model.Transaction
	var name, createdBy sql.NullString
	err := row.Scan(&tx.ID,
		&tx.Data.Customer,
		&name,
		&tx.Data.Quantity,
		&tx.Data.CreatedAt,
		&createdBy)
	if err != nil {
		return model.Transaction{}, err
	}
	tx.Data.CustomerName = name.String
	tx.Data.CreatedBy = createdBy.String
	return tx, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	var txs []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// Запрос к журналу, общий для обычного чтения и чтения под блокировкой
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func transactionsByCustomer(ctx context.Context, q querier, customer int, since time.Time) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+transactionColumns+
			" FROM transactions AS t"+
			" JOIN customers AS c ON c.id = t.customer_id"+
			" WHERE t.customer_id = $1"+
			"   AND t.created_at > $2"+
			" ORDER BY t.created_at DESC, t.id DESC",
		customer,
		since)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (store *store) TransactionGetByCustomer(ctx context.Context, customer int, since time.Time) ([]model.Transaction, error) {
	return transactionsByCustomer(ctx, store.database, customer, since)
}

func (store *store) TransactionGetAll(ctx context.Context, since time.Time) ([]model.Transaction, error) {
	// нулевое время - без ограничения
	query := "SELECT " + transactionColumns +
		" FROM transactions AS t" +
		" JOIN customers AS c ON c.id = t.customer_id"
	var args []any
	if !since.IsZero() {
		query += " WHERE t.created_at >= $1"
		args = append(args, since)
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// withCustomerLock runs fn in a database transaction holding a row lock on the customer.
func (store *store) withCustomerLock(ctx context.Context, customer int, fn func(dbtx *sql.Tx) error) error {
	dbtx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbtx.Rollback()

	var id int
	err = dbtx.QueryRowContext(ctx,
		"SELECT id FROM customers WHERE id = $1 FOR UPDATE",
		customer).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}
		return err
	}

	if err = fn(dbtx); err != nil {
		return err
	}
	return dbtx.Commit()
}

func insertTransaction(ctx context.Context, q querier, customer int, quantity int, createdBy string) (model.Transaction, error) {
	tx := model.Transaction{Data: model.TransactionData{
		Customer:  customer,
		Quantity:  quantity,
		CreatedBy: createdBy,
	}}
	err := q.QueryRowContext(ctx,
		"INSERT INTO transactions (customer_id, quantity, created_by)"+
			" VALUES ($1, $2, NULLIF($3::text, ''))"+
			" RETURNING id, created_at",
		customer,
		quantity,
		createdBy).Scan(&tx.ID, &tx.Data.CreatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

func (store *store) TransactionPurchase(ctx context.Context, tx model.Transaction, since time.Time, check CheckFunc) (model.Transaction, error) {
	if tx.Data.Quantity >= 0 {
		return model.Transaction{}, ErrQuantityIncorrect
	}

	var inserted model.Transaction
	err := store.withCustomerLock(ctx, tx.Data.Customer, func(dbtx *sql.Tx) error {
		// Повторная проверка квоты под блокировкой покупателя
		window, err := transactionsByCustomer(ctx, dbtx, tx.Data.Customer, since)
		if err != nil {
			return err
		}
		if check != nil {
			if err = check(window); err != nil {
				return err
			}
		}

		inserted, err = insertTransaction(ctx, dbtx, tx.Data.Customer, tx.Data.Quantity, tx.Data.CreatedBy)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return inserted, nil
}

func stockLevel(ctx context.Context, q querier) (int, error) {
	var level int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(quantity), 0) FROM transactions"+
			" WHERE customer_id = $1",
		model.ReservedCustomerID).Scan(&level)
	return level, err
}

func (store *store) StockGet(ctx context.Context) (int, error) {
	return stockLevel(ctx, store.database)
}

func (store *store) StockLogGet(ctx context.Context, limit int) ([]model.Transaction, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+transactionColumns+
			" FROM transactions AS t"+
			" JOIN customers AS c ON c.id = t.customer_id"+
			" WHERE t.customer_id = $1"+
			" ORDER BY t.created_at DESC, t.id DESC"+
			" LIMIT $2",
		model.ReservedCustomerID,
		limit)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

func (store *store) StockIncrease(ctx context.Context, amount int, createdBy string) (model.Transaction, error) {
	if amount <= 0 {
		return model.Transaction{}, ErrQuantityIncorrect
	}
	return insertTransaction(ctx, store.database, model.ReservedCustomerID, amount, createdBy)
}

func (store *store) StockDecrease(ctx context.Context, amount int, createdBy string) (model.Transaction, error) {
	if amount <= 0 {
		return model.Transaction{}, ErrQuantityIncorrect
	}

	var inserted model.Transaction
	err := store.withCustomerLock(ctx, model.ReservedCustomerID, func(dbtx *sql.Tx) error {
		//Проверка достаточно остатка
		level, err := stockLevel(ctx, dbtx)
		if err != nil {
			return err
		}
		if level < amount {
			return fmt.Errorf("%w: %d in stock", ErrInsufficientStock, level)
		}

		inserted, err = insertTransaction(ctx, dbtx, model.ReservedCustomerID, -amount, createdBy)
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return inserted, nil
}
