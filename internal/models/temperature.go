// Package models 温控安全核心的数据模型
package models

import "fmt"

// Temperature 定点温度，单位 0.1°C
type Temperature int32

// 安全边界（编译期常量，不可配置）
const (
	MaxSafeTemp    Temperature = 1200 // 120°C
	MinSafeTemp    Temperature = 400  // 40°C
	TempHysteresis Temperature = 50   // 5°C
)

// Celsius 整数摄氏度转定点温度
func Celsius(c int) Temperature {
	return Temperature(c * 10)
}

// FromMilliCelsius 毫摄氏度（hwmon 格式）转定点温度，四舍五入
func FromMilliCelsius(m int64) Temperature {
	if m >= 0 {
		return Temperature((m + 50) / 100)
	}
	return Temperature((m - 50) / 100)
}

// FromFloat 浮点摄氏度转定点温度，四舍五入
func FromFloat(c float64) Temperature {
	if c >= 0 {
		return Temperature(c*10 + 0.5)
	}
	return Temperature(c*10 - 0.5)
}

// Float 返回浮点摄氏度
func (t Temperature) Float() float64 {
	return float64(t) / 10
}

func (t Temperature) String() string {
	sign := ""
	v := int32(t)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%d°C", sign, v/10, v%10)
}
