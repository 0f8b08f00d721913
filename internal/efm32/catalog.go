package efm32

// Gen identifies the MSC register layout generation.
type Gen int

const (
	Gen1 Gen = 1 // Gecko series 0: MSC at 0x400C0000
	Gen2 Gen = 2 // Series 1 (EFR32xG1x, Pearl/Jade): MSC at 0x400E0000
)

// Layout locates the flash controller of one device.
type Layout struct {
	Base uint32
	Gen  Gen
}

var (
	layoutGen1 = Layout{Base: 0x400C0000, Gen: Gen1}
	layoutGen2 = Layout{Base: 0x400E0000, Gen: Gen2}
)

// Device describes one part family.
type Device struct {
	Family   uint16
	Name     string
	PageSize uint32
	MSC      Layout
	HasRadio bool
}

// devices is searched in order and the first family match wins. Some
// families appear twice under alias names for identical silicon; the first
// entry is the name reported.
var devices = []Device{
	// Series 1 micro + radio
	{16, "EFR32MG1P", 2048, layoutGen2, true},
	{17, "EFR32MG1B", 2048, layoutGen2, true},
	{18, "EFR32MG1V", 2048, layoutGen2, true},
	{19, "EFR32BG1P", 2048, layoutGen2, true},
	{20, "EFR32BG1B", 2048, layoutGen2, true},
	{21, "EFR32BG1V", 2048, layoutGen2, true},
	{25, "EFR32FG1P", 2048, layoutGen2, true},
	{26, "EFR32FG1B", 2048, layoutGen2, true},
	{27, "EFR32FG1V", 2048, layoutGen2, true},
	{28, "EFR32MG12P", 2048, layoutGen2, true},
	{28, "EFR32MG2P", 2048, layoutGen2, true},
	{29, "EFR32MG12B", 2048, layoutGen2, true},
	{30, "EFR32MG12V", 2048, layoutGen2, true},
	{31, "EFR32BG12P", 2048, layoutGen2, true},
	{32, "EFR32BG12B", 2048, layoutGen2, true},
	{33, "EFR32BG12V", 2048, layoutGen2, true},
	{37, "EFR32FG12P", 2048, layoutGen2, true},
	{38, "EFR32FG12B", 2048, layoutGen2, true},
	{39, "EFR32FG12V", 2048, layoutGen2, true},
	{40, "EFR32MG13P", 2048, layoutGen2, true},
	{41, "EFR32MG13B", 2048, layoutGen2, true},
	{42, "EFR32MG13V", 2048, layoutGen2, true},
	{43, "EFR32BG13P", 2048, layoutGen2, true},
	{44, "EFR32BG13B", 2048, layoutGen2, true},
	{45, "EFR32BG13V", 2048, layoutGen2, true},
	{49, "EFR32FG13P", 2048, layoutGen2, true},
	{50, "EFR32FG13B", 2048, layoutGen2, true},
	{51, "EFR32FG13V", 2048, layoutGen2, true},
	// Series 1 micro
	{81, "EFM32PG1B", 2048, layoutGen2, false},
	{83, "EFM32JG1B", 2048, layoutGen2, false},
	// Series 0 micro
	{71, "EFM32G", 512, layoutGen1, false},
	{72, "EFM32GG", 2048, layoutGen1, false},
	{73, "EFM32TG", 512, layoutGen1, false},
	{74, "EFM32LG", 2048, layoutGen1, false},
	{75, "EFM32WG", 2048, layoutGen1, false},
	{76, "EFM32ZG", 1024, layoutGen1, false},
	{77, "EFM32HG", 1024, layoutGen1, false},
	// Series 0 micro + radio (EZR32)
	{120, "EFR32WG", 2048, layoutGen1, true},
	{121, "EFR32LG", 2048, layoutGen1, true},
}

// Lookup returns the first catalog entry for family.
func Lookup(family uint16) (Device, bool) {
	for _, d := range devices {
		if d.Family == family {
			return d, true
		}
	}
	return Device{}, false
}

// Devices returns a copy of the catalog in lookup order.
func Devices() []Device {
	return append([]Device(nil), devices...)
}
