package model

type Service struct {
	ID              string
	Name            string
	Price           Money
	DurationMinutes int
}

type Client struct {
	ID    string
	Name  string
	Email string
	Phone string
}
