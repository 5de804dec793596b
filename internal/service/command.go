package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"forgecore/internal/models"
	"forgecore/internal/sensor"

	"go.uber.org/zap"
)

// 操作命令
const (
	CommandEnable  = "enable"  // enable <profile>
	CommandDisable = "disable" // disable
	CommandStatus  = "status"  // status
	CommandSet     = "set"     // set <sim sensor> <°C>，仅仿真传感器
)

var (
	// ErrUnknownSensor set 命令指定的传感器不是仿真传感器
	ErrUnknownSensor = errors.New("unknown simulated sensor")
	// ErrSetUnavailable 非全仿真台架配置下 set 命令不可用
	ErrSetUnavailable = errors.New("set is only available on an all-simulated bench")
)

// Command 一条解析后的操作命令
type Command struct {
	Name    string
	Profile string
	Sensor  string
	Temp    models.Temperature
}

// ParseCommand 解析一行命令，空行与 # 注释返回空 Command
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, nil
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case CommandEnable:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: enable <profile>")
		}
		return Command{Name: name, Profile: args[0]}, nil
	case CommandDisable, CommandStatus:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("usage: %s", name)
		}
		return Command{Name: name}, nil
	case CommandSet:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("usage: set <sensor> <celsius>")
		}
		c, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Command{}, fmt.Errorf("invalid temperature %q: %w", args[1], err)
		}
		return Command{Name: name, Sensor: args[0], Temp: models.FromFloat(c)}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// Commander 执行操作命令
type Commander struct {
	loop       *ControlLoop
	simulators map[string]*sensor.StaticSource
	logger     *zap.Logger
}

// NewCommander 创建命令执行器；simulators 为可被 set 命令修改的仿真传感器，为空时 set 被拒绝
func NewCommander(loop *ControlLoop, simulators []*sensor.StaticSource, logger *zap.Logger) *Commander {
	sims := make(map[string]*sensor.StaticSource, len(simulators))
	for _, s := range simulators {
		sims[s.ID()] = s
	}
	return &Commander{loop: loop, simulators: sims, logger: logger}
}

// Execute 执行命令并返回一行结果
func (c *Commander) Execute(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Name {
	case "":
		return "", nil
	case CommandEnable:
		if err := c.loop.Enable(ctx, cmd.Profile); err != nil {
			return "", err
		}
		return "ok enable " + cmd.Profile, nil
	case CommandDisable:
		if err := c.loop.Disable(ctx); err != nil {
			return "", err
		}
		return "ok disable", nil
	case CommandStatus:
		return FormatStatus(c.loop.Status()), nil
	case CommandSet:
		if len(c.simulators) == 0 {
			return "", ErrSetUnavailable
		}
		sim, ok := c.simulators[cmd.Sensor]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownSensor, cmd.Sensor)
		}
		sim.Set(cmd.Temp)
		return fmt.Sprintf("ok set %s %s", cmd.Sensor, cmd.Temp), nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// Serve 逐行读取命令直到 r 结束或 ctx 取消；w 为 nil 时结果只写日志
func (c *Commander) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		cmd, err := ParseCommand(line)
		var reply string
		if err == nil {
			reply, err = c.Execute(ctx, cmd)
		}
		if err != nil {
			c.logger.Warn("Command failed", zap.String("command", line), zap.Error(err))
			reply = "error: " + err.Error()
		} else if reply != "" {
			c.logger.Info("Command executed", zap.String("command", line), zap.String("result", reply))
		}
		if w != nil && reply != "" {
			if _, err := fmt.Fprintln(w, reply); err != nil {
				return fmt.Errorf("failed to write command reply: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to read commands: %w", err)
	}
	return nil
}

// FormatStatus 单行状态文本
func FormatStatus(s Status) string {
	output := "off"
	if s.OutputEnabled {
		output = "on"
	}
	profile := s.Profile
	if profile == "" {
		profile = "-"
	}
	line := fmt.Sprintf("state=%s output=%s profile=%s fused=%s confidence=%s sensors=%d cutoffs=%d cycles=%d",
		s.State, output, profile, s.Fused.Value, s.Fused.Confidence, s.Fused.ContributingSensors, s.RecentCutoffs, s.Cycles)
	if s.LastFault != "" {
		line += " last_fault=" + strconv.Quote(s.LastFault)
	}
	return line
}
