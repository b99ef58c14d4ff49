package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/grouphive/grouphive/app/models"
)

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a read-side membership repository.
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) GetByGroupAndUser(groupID, userID uint) (*models.Membership, error) {
	var m models.Membership
	err := r.db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) ListByGroup(groupID uint) ([]models.Membership, error) {
	var ms []models.Membership
	err := r.db.Where("group_id = ?", groupID).Order("user_id ASC").Find(&ms).Error
	return ms, err
}

func (r *membershipRepository) GetPaidStatus(groupID, userID uint) (string, error) {
	var gm models.GroupMember
	err := r.db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&gm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MemberPaidStatusNone, nil
		}
		return "", err
	}
	return gm.PaidStatus, nil
}
