package ui

// iconBytes is the 16x16 tray icon (PNG).
var iconBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x2f, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x50, 0x50, 0xd0, 0xf8,
	0x4f, 0x09, 0x66, 0x18, 0x61, 0x06, 0xc0, 0x00, 0xc9, 0x06, 0xa0, 0x03,
	0xa2, 0x0d, 0xc0, 0x05, 0x08, 0x1a, 0x40, 0x08, 0xd0, 0xde, 0x00, 0x8a,
	0xbd, 0x40, 0xb5, 0x40, 0xa4, 0x5a, 0x34, 0x0e, 0xf3, 0xbc, 0x00, 0x00,
	0xe5, 0x2e, 0xce, 0x58, 0x64, 0xc7, 0xe7, 0x3a, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
