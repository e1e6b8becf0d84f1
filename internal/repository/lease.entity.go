package repository

import (
	"time"

	"github.com/careroute/referral-engine/internal/model"
)

type JobLeaseEntity struct {
	JobName   string    `gorm:"primaryKey;column:job_name"`
	HeldBy    string    `gorm:"column:held_by"`
	HeldUntil time.Time `gorm:"column:held_until;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (JobLeaseEntity) TableName() string {
	return "job_leases"
}

func toJobLeaseModel(e *JobLeaseEntity) *model.JobLease {
	if e == nil {
		return nil
	}
	return &model.JobLease{
		JobName:   e.JobName,
		HeldBy:    e.HeldBy,
		HeldUntil: e.HeldUntil,
		UpdatedAt: e.UpdatedAt,
	}
}
