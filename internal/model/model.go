package model

import "time"

// Покупатели

// ReservedCustomerID - учетная запись склада. Сумма ее транзакций есть текущий остаток.
const ReservedCustomerID = 1

type Customer struct {
	ID   int
	Data CustomerData
}
type CustomerData struct {
	Name      string
	CreatedAt time.Time
}

// Журнал транзакций
// quantity > 0 - поступление на склад, quantity < 0 - покупка/списание

type Transaction struct {
	ID   int64
	Data TransactionData
}
type TransactionData struct {
	Customer     int
	CustomerName string
	Quantity     int
	CreatedAt    time.Time
	CreatedBy    string
}

// Abs возвращает количество без знака
func (tx Transaction) Abs() int {
	if tx.Data.Quantity < 0 {
		return -tx.Data.Quantity
	}
	return tx.Data.Quantity
}

// Сотрудники

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleInventory Role = "inventory"
	RoleCustomer  Role = "customer"
)

type User struct {
	ID   string
	Data UserData
}
type UserData struct {
	Email    string
	Username string
	Role     Role
}

// Склад

type Stock struct {
	Level int
	Low   bool
	Logs  []Transaction
}

// Статистика

type DashboardStats struct {
	TotalTransactions int
	UniqueCustomers   int
	TotalQuantity     int
	AverageQuantity   float64
}

type Dashboard struct {
	Period       string
	Stats        DashboardStats
	Transactions []Transaction
}
