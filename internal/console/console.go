// internal/console/console.go
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"libralend/internal/circulation"
	"libralend/internal/directory"
)

const menu = "1. Add Librarian\n2. Add Student\n3. Add Book (as Lib)\n4. Borrow Book\n5. Return Book\n6. Display All\n7. Exit\nChoice: "

var errBadNumber = errors.New("expected a whole number")

// Console drives the lending engine from a line-oriented reader, one menu
// choice per engine call.
type Console struct {
	svc     circulation.Service
	in      *bufio.Reader
	out     io.Writer
	pending []string
}

func New(svc circulation.Service, in io.Reader, out io.Writer) *Console {
	return &Console{svc: svc, in: bufio.NewReader(in), out: out}
}

// Run loops until the user picks Exit or input ends. Operation failures are
// printed and the loop continues; only a cancelled context stops it early.
func (c *Console) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.print(menu)
		choice, err := c.readInt()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			c.pending = nil
			continue
		}

		switch choice {
		case 1:
			err = c.addUser(ctx, directory.RoleLibrarian)
		case 2:
			err = c.addUser(ctx, directory.RoleStudent)
		case 3:
			err = c.addBook(ctx)
		case 4:
			err = c.loan(ctx, c.svc.BorrowBook)
		case 5:
			err = c.loan(ctx, c.svc.ReturnBook)
		case 6:
			err = c.display(ctx)
		case 7:
			return nil
		default:
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, errBadNumber):
			c.pending = nil
			c.print("Invalid input.\n")
		case err != nil:
			c.print("Error: %v\n", err)
		}
	}
}

func (c *Console) addUser(ctx context.Context, role directory.Role) error {
	c.print("Enter ID: ")
	id, err := c.readInt()
	if err != nil {
		return err
	}
	c.pending = nil
	c.print("Enter Name: ")
	name, err := c.readLine()
	if err != nil {
		return err
	}
	return c.report(c.svc.AddUser(ctx, id, name, role))
}

func (c *Console) addBook(ctx context.Context) error {
	c.print("Librarian ID: ")
	uid, err := c.readInt()
	if err != nil {
		return err
	}
	c.print("Book ID: ")
	bid, err := c.readInt()
	if err != nil {
		return err
	}
	c.print("Copies: ")
	copies, err := c.readInt()
	if err != nil {
		return err
	}
	c.pending = nil
	c.print("Title: ")
	title, err := c.readLine()
	if err != nil {
		return err
	}
	c.print("Author: ")
	author, err := c.readLine()
	if err != nil {
		return err
	}
	return c.report(c.svc.AddBook(ctx, uid, bid, title, author, copies))
}

func (c *Console) loan(ctx context.Context, op func(context.Context, int, int) (circulation.Outcome, error)) error {
	c.print("Student ID & Book ID: ")
	uid, err := c.readInt()
	if err != nil {
		return err
	}
	bid, err := c.readInt()
	if err != nil {
		return err
	}
	return c.report(op(ctx, uid, bid))
}

func (c *Console) display(ctx context.Context) error {
	snap, err := c.svc.ListState(ctx)
	if err != nil {
		return err
	}

	c.print("\n=== CURRENT LIBRARY STATE ===\n")
	c.print("--- Books ---\n")
	if len(snap.Books) == 0 {
		c.print("No books in library.\n")
	}
	for _, b := range snap.Books {
		c.print("%s\n", b)
	}

	c.print("\n--- Users ---\n")
	if len(snap.Users) == 0 {
		c.print("No registered users.\n")
	}
	for _, u := range snap.Users {
		c.print("%s\n", u.User)
		if !u.Role.CanBorrow() {
			continue
		}
		if len(u.Borrowed) == 0 {
			c.print("   Borrowed Book IDs: None\n")
			continue
		}
		ids := make([]string, len(u.Borrowed))
		for i, id := range u.Borrowed {
			ids[i] = strconv.Itoa(id)
		}
		c.print("   Borrowed Book IDs: %s\n", strings.Join(ids, " "))
	}
	c.print("=============================\n\n")
	return nil
}

func (c *Console) report(outcome circulation.Outcome, err error) error {
	if err != nil {
		return err
	}
	c.print("%s\n", outcome.Message())
	return nil
}

// readInt consumes the next whitespace-separated token, reading more lines
// as needed.
func (c *Console) readInt() (int, error) {
	for len(c.pending) == 0 {
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			return 0, err
		}
		c.pending = strings.Fields(line)
	}
	tok := c.pending[0]
	c.pending = c.pending[1:]
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadNumber, tok)
	}
	return n, nil
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) print(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
