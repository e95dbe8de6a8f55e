package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionExists   = errors.New("subscription_already_exists")
	ErrSubscriptionInactive = errors.New("subscription_inactive")

	ErrTrialAlreadyUsed = errors.New("trial_already_used")
	ErrTrialImmutable   = errors.New("trial_not_extendable")

	ErrSquadNotSelectable = errors.New("squad_not_selectable")
	ErrNoSquadsSelected   = errors.New("no_squads_selected")
	ErrLastSquad          = errors.New("cannot_remove_last_squad")
	ErrSquadNotConnected  = errors.New("squad_not_connected")
	ErrSquadAlreadyAdded  = errors.New("squad_already_connected")

	ErrTrafficUnlimited   = errors.New("traffic_already_unlimited")
	ErrNothingToChange    = errors.New("nothing_to_change")
	ErrAutopayDaysRange   = errors.New("autopay_days_out_of_range")
	ErrDeviceLimitMinimum = errors.New("device_limit_below_minimum")
	ErrDeviceNotFound     = errors.New("device_not_found")
)
