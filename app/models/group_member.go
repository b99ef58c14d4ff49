package models

import (
	"time"

	"gorm.io/gorm"
)

// Simplified paid-status vocabulary kept for features that predate the
// memberships table and still read group_members directly.
const (
	MemberPaidStatusNone   = "none"
	MemberPaidStatusPaying = "paying"
	MemberPaidStatusGrace  = "grace"
)

// GroupMember carries the legacy paid-status mirror. PaidStatus is derived
// from Membership.Status and must only be written through
// SyncPaidStatusMirror inside the same transaction as the membership change.
type GroupMember struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	GroupID    uint      `gorm:"not null;index:ux_group_members_group_user,unique,priority:1" json:"group_id"`
	UserID     uint      `gorm:"not null;index:ux_group_members_group_user,unique,priority:2" json:"user_id"`
	PaidStatus string    `gorm:"type:varchar(16);not null;default:'none';index" json:"paid_status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaidStatusForMembership maps the canonical membership status onto the
// legacy vocabulary. Pure function; the mirror must never be written from
// anything else.
func PaidStatusForMembership(membershipStatus string) string {
	switch membershipStatus {
	case MembershipStatusActive:
		return MemberPaidStatusPaying
	case MembershipStatusPastDue:
		return MemberPaidStatusGrace
	default:
		return MemberPaidStatusNone
	}
}

// GetOrCreateGroupMember returns the existing member row or creates one with
// the default unpaid status.
func GetOrCreateGroupMember(db *gorm.DB, groupID, userID uint) (*GroupMember, error) {
	var gm GroupMember
	if err := db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&gm).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			gm = GroupMember{GroupID: groupID, UserID: userID, PaidStatus: MemberPaidStatusNone}
			if err := db.Create(&gm).Error; err != nil {
				return nil, err
			}
			return &gm, nil
		}
		return nil, err
	}
	return &gm, nil
}
