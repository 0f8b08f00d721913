package efm32

import "github.com/bigbag/efm32-flasher/internal/target"

func commands(c *Controller) []target.Command {
	return []target.Command{
		{Name: "erase_mass", Handler: c.cmdEraseMass, Help: "Erase entire flash memory"},
		{Name: "serial", Handler: cmdSerial, Help: "Prints unique number"},
	}
}

func (c *Controller) cmdEraseMass(t *target.Target, _ []string) bool {
	if err := c.EraseAll(t); err != nil {
		t.Logger().Error("mass erase failed", "error", err)
		return false
	}
	return true
}

func cmdSerial(t *target.Target, _ []string) bool {
	eui := ReadEUI(t)
	if err := t.CheckError(); err != nil {
		t.Logger().Error("reading EUI failed", "error", err)
		return false
	}
	t.Printf("Unique Number: 0x%016x\n", eui)
	return true
}
