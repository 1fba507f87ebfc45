package fan

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"
)

// pwmPin is one sysfs PWM channel. The fan control pins want a fixed
// 25 kHz carrier; speed is the duty cycle.
type pwmPin struct {
	chipPath string
	channel  string
	enabled  bool
}

func newPwmPin(pwmChipID int, channel int) *pwmPin {
	return &pwmPin{
		chipPath: "/sys/class/pwm/pwmchip" + strconv.Itoa(pwmChipID),
		channel:  strconv.Itoa(channel),
	}
}

func (p *pwmPin) Export() error {
	err := os.WriteFile(p.chipPath+"/export", []byte(p.channel), 0644)
	if err != nil {
		e, ok := err.(*os.PathError)
		if !ok || e.Err != syscall.EBUSY {
			return err
		}
	}

	// give the kernel a beat to create the channel directory
	time.Sleep(200 * time.Millisecond)

	return nil
}

func (p *pwmPin) pinDir() string {
	return p.chipPath + "/pwm" + p.channel
}

func (p *pwmPin) Enable(enable bool) error {
	if p.enabled == enable {
		return nil
	}
	p.enabled = enable
	v := "0"
	if enable {
		v = "1"
	}
	return os.WriteFile(p.pinDir()+"/enable", []byte(v), 0644)
}

func (p *pwmPin) readValue(name string) (uint32, error) {
	buf, err := os.ReadFile(p.pinDir() + "/" + name)
	if err != nil {
		return 0, err
	}
	v := bytes.TrimRight(buf, "\n")
	if len(v) == 0 {
		return 0, nil
	}
	val, err := strconv.Atoi(string(v))
	return uint32(val), err
}

func (p *pwmPin) GetPeriod() (uint32, error) {
	return p.readValue("period")
}

func (p *pwmPin) SetPeriod(period uint32) error {
	return os.WriteFile(p.pinDir()+"/period", []byte(fmt.Sprintf("%v", period)), 0644)
}

func (p *pwmPin) GetDutyCycle() (uint32, error) {
	return p.readValue("duty_cycle")
}

func (p *pwmPin) SetDutyCycle(duty uint32) error {
	return os.WriteFile(p.pinDir()+"/duty_cycle", []byte(fmt.Sprintf("%v", duty)), 0644)
}

func (p *pwmPin) SetDutyCyclePercent(percent uint32) error {
	period, err := p.GetPeriod()
	if err != nil {
		return err
	}
	return p.SetDutyCycle(period / 100 * percent)
}

func (p *pwmPin) GetDutyCyclePercent() (uint32, error) {
	period, err := p.GetPeriod()
	if err != nil {
		return 0, err
	}
	if period == 0 {
		return 0, nil
	}
	duty, err := p.GetDutyCycle()
	if err != nil {
		return 0, err
	}
	return duty * 100 / period, nil
}
