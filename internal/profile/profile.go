// Package profile 温度包络预设管理
//
// Profile 只能通过 New（或 Manager.Load / Manager.LoadFile）构造，构造时强制校验
// MinSafeTemp ≤ MinTemp < MaxTemp ≤ MaxSafeTemp。零值 Profile 未封存，任何消费方都会拒绝。
package profile

import (
	"errors"
	"fmt"
	"strings"

	"forgecore/internal/models"
)

var (
	// ErrOutOfBounds 包络超出硬安全边界
	ErrOutOfBounds = errors.New("profile outside hard safety bounds")
	// ErrInvalid 包络本身不合法（名称为空、min ≥ max、未封存）
	ErrInvalid = errors.New("invalid profile")
	// ErrNotFound 预设不存在
	ErrNotFound = errors.New("profile not found")
)

// Profile 温度包络
type Profile struct {
	name    string
	minTemp models.Temperature
	maxTemp models.Temperature
	sealed  bool
}

// New 构造并校验温度包络
func New(name string, minTemp, maxTemp models.Temperature) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if minTemp < models.MinSafeTemp {
		return Profile{}, fmt.Errorf("%w: %s min_temp %s below %s", ErrOutOfBounds, name, minTemp, models.MinSafeTemp)
	}
	if maxTemp > models.MaxSafeTemp {
		return Profile{}, fmt.Errorf("%w: %s max_temp %s above %s", ErrOutOfBounds, name, maxTemp, models.MaxSafeTemp)
	}
	if minTemp >= maxTemp {
		return Profile{}, fmt.Errorf("%w: %s min_temp %s must be below max_temp %s", ErrInvalid, name, minTemp, maxTemp)
	}
	return Profile{name: name, minTemp: minTemp, maxTemp: maxTemp, sealed: true}, nil
}

// Name 包络名称
func (p Profile) Name() string { return p.name }

// MinTemp 包络下限
func (p Profile) MinTemp() models.Temperature { return p.minTemp }

// MaxTemp 包络上限（加热目标）
func (p Profile) MaxTemp() models.Temperature { return p.maxTemp }

// Valid 是否经过构造校验；零值返回 false
func (p Profile) Valid() bool {
	return p.sealed &&
		p.minTemp >= models.MinSafeTemp &&
		p.maxTemp <= models.MaxSafeTemp &&
		p.minTemp < p.maxTemp
}

func (p Profile) String() string {
	return fmt.Sprintf("%s[%s..%s]", p.name, p.minTemp, p.maxTemp)
}
