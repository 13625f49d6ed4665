package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cx32hal/errcode"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInfoDefaultsFromConfig(t *testing.T) {
	out, err := run(t, "", "info")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "65536 bytes") || !strings.Contains(out, "state:         ready") {
		t.Fatalf("info output:\n%s", out)
	}
}

func TestInfoVariantsList(t *testing.T) {
	out, err := run(t, "", "info", "--variants")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"cx32l003f8", "cx32l003f4", "cx32l003e8"} {
		if !strings.Contains(out, name) {
			t.Fatalf("missing %s in:\n%s", name, out)
		}
	}
}

func TestProgramReadEraseWithImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "part.bin")
	payload := filepath.Join(dir, "app.bin")
	data := []byte("hello, flash! 0123456789")
	if err := os.WriteFile(payload, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, "", "-i", img, "--variant", "cx32l003f4", "program", "0x400", payload, "--verify"); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 32768 || !bytes.Equal(raw[0x400:0x400+len(data)], data) {
		t.Fatalf("image not written (len %d)", len(raw))
	}

	outFile := filepath.Join(dir, "dump.bin")
	if _, err := run(t, "", "-i", img, "--variant", "cx32l003f4", "read", "0x400", "24", "-o", outFile); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(outFile); !bytes.Equal(got, data) {
		t.Fatalf("read back %q", got)
	}

	if _, err := run(t, "", "-i", img, "--variant", "cx32l003f4", "--transport", "i2c", "erase", "0x400"); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(img)
	for i, b := range raw[0x400:0x600] {
		if b != 0xFF {
			t.Fatalf("byte 0x%X = 0x%02X after erase", 0x400+i, b)
		}
	}
}

func TestProgramEraseFirst(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "part.bin")
	first := filepath.Join(dir, "a.bin")
	second := filepath.Join(dir, "b.bin")
	os.WriteFile(first, bytes.Repeat([]byte{0x0F}, 600), 0o644)
	os.WriteFile(second, bytes.Repeat([]byte{0xF0}, 600), 0o644)

	if _, err := run(t, "", "-i", img, "program", "0x1F0", first); err != nil {
		t.Fatal(err)
	}
	// Without --erase the NOR AND leaves 0x00 and verify fails.
	if _, err := run(t, "", "-i", img, "program", "0x1F0", second, "--verify"); !errors.Is(err, errcode.VerifyFailed) {
		t.Fatalf("overwrite without erase: %v", err)
	}
	if _, err := run(t, "", "-i", img, "program", "0x1F0", second, "--erase", "--verify"); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(img)
	// [0x1F0, 0x448) spans pages 0..2; the rest of those pages reads erased.
	if raw[0x000] != 0xFF || raw[0x5FF] != 0xFF || raw[0x1F0] != 0xF0 || raw[0x447] != 0xF0 {
		t.Fatalf("bytes: %02X %02X %02X %02X", raw[0], raw[0x5FF], raw[0x1F0], raw[0x447])
	}
}

func TestProgramValueWidths(t *testing.T) {
	img := filepath.Join(t.TempDir(), "part.bin")
	if _, err := run(t, "", "-i", img, "program", "--width", "4", "0x200", "0xCAFEF00D"); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(img)
	if !bytes.Equal(raw[0x200:0x204], []byte{0x0D, 0xF0, 0xFE, 0xCA}) {
		t.Fatalf("word = % X", raw[0x200:0x204])
	}
	_, err := run(t, "", "-i", img, "program", "--width", "3", "0x200", "1")
	if !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("width 3: %v", err)
	}
	_, err = run(t, "", "-i", img, "program", "--width", "4", "0x202", "1")
	if !errors.Is(err, errcode.Misaligned) {
		t.Fatalf("misaligned: %v", err)
	}
}

func TestEraseArgs(t *testing.T) {
	if _, err := run(t, "", "erase"); err == nil {
		t.Fatal("erase without address accepted")
	}
	if _, err := run(t, "", "erase", "--mass", "0x0"); err == nil {
		t.Fatal("mass erase with address accepted")
	}
	if _, err := run(t, "", "erase", "0x201"); !errors.Is(err, errcode.Misaligned) {
		t.Fatalf("unaligned erase: %v", err)
	}
	if _, err := run(t, "", "erase", "zz"); err == nil {
		t.Fatal("bad number accepted")
	}
}

func TestScriptProtectedErase(t *testing.T) {
	script := `
# lock sector 1 then try to erase across it
write 0x0E00 a1a2a3a4 verify
protect 0x2
erase 0x0E00 3
`
	out, err := run(t, script, "--variant", "cx32l003f4", "script")
	if !errors.Is(err, errcode.WriteProtected) {
		t.Fatalf("err = %v\n%s", err, out)
	}
	if !strings.Contains(err.Error(), "line 5") || !strings.Contains(err.Error(), "page 8") {
		t.Fatalf("err = %v", err)
	}
}

func TestScriptKeepGoingAndRecover(t *testing.T) {
	script := `
erase 0x201
reinit
program 4 0x100 0x11223344
read 0x100 4
nosuch
`
	out, err := run(t, script, "script", "-k")
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("first error = %v", err)
	}
	if !strings.Contains(out, "44 33 22 11") {
		t.Fatalf("read line missing from:\n%s", out)
	}
	if !strings.Contains(out, "nosuch: unknown command") {
		t.Fatalf("unknown command not reported:\n%s", out)
	}
}

func TestScriptQuotedPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "with space.bin")
	if err := os.WriteFile(p, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, `load 0x80 "`+p+`" verify`+"\nread 0x80 4\n", "script")
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if !strings.Contains(out, "01 02 03 04") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestUnknownTransport(t *testing.T) {
	if _, err := run(t, "", "--transport", "spi", "info"); err == nil || !strings.Contains(err.Error(), "spi") {
		t.Fatalf("err = %v", err)
	}
}

func TestStderrLogger(t *testing.T) {
	var b bytes.Buffer
	l := newStderrLogger(&b)
	l.Info("flash init", "size", 32768, "irq")
	if s := b.String(); !strings.Contains(s, "INFO flash init size=32768 irq=?") {
		t.Fatalf("log line %q", s)
	}
}

func TestReadOversizedLengthRejected(t *testing.T) {
	for _, args := range [][]string{
		{"read", "0", "0xFFFFFFFF"},
		{"read", "0xFFF0", "0x20"},
	} {
		if _, err := run(t, "", args...); !errors.Is(err, errcode.OutOfRange) {
			t.Fatalf("%v: err = %v, want out_of_range", args, err)
		}
	}
	if _, err := run(t, "read 0 0x40000000\n", "script"); !errors.Is(err, errcode.OutOfRange) {
		t.Fatalf("script read: %v", err)
	}
}

func TestProtectPersistsWithImage(t *testing.T) {
	img := filepath.Join(t.TempDir(), "part.bin")
	if _, err := run(t, "", "protect", "0x2"); !errors.Is(err, errcode.InvalidParams) {
		t.Fatalf("protect without image: %v", err)
	}
	if _, err := run(t, "", "-i", img, "protect", "0x2"); err != nil {
		t.Fatal(err)
	}
	if raw, err := os.ReadFile(img + ".slock"); err != nil || strings.TrimSpace(string(raw)) != "0x00000002" {
		t.Fatalf("slock file = %q, %v", raw, err)
	}

	out, err := run(t, "", "-i", img, "info")
	if err != nil || !strings.Contains(out, "write protect: 0x00000002") {
		t.Fatalf("info after protect: %v\n%s", err, out)
	}
	// Sector 1 starts at page 8.
	if _, err := run(t, "", "-i", img, "erase", "0x1000"); !errors.Is(err, errcode.WriteProtected) {
		t.Fatalf("erase of locked sector: %v", err)
	}

	if _, err := run(t, "", "-i", img, "protect", "0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(img + ".slock"); !os.IsNotExist(err) {
		t.Fatalf("slock file kept after clearing mask: %v", err)
	}
	if _, err := run(t, "", "-i", img, "erase", "0x1000"); err != nil {
		t.Fatalf("erase after unlock: %v", err)
	}
}
