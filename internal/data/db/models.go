package db

type KvStore struct {
	Key       string
	Value     []byte
	Checksum  int64
	CreatedAt int64
	UpdatedAt int64
}

type AuditEvent struct {
	ID             int64
	NotificationID string
	Status         string
	Title          string
	Detail         string
	CreatedAt      int64
}
