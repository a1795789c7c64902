package postgres

import (
	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"gorm.io/gorm"
)

type Repositories struct {
	Systems  ports.SystemRepository
	Licenses ports.LicenseRepository
	Outbox   ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Systems:  &systemRepository{db: db},
		Licenses: &licenseRepository{db: db},
		Outbox:   &outboxRepository{db: db},
	}
}
