package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/souzou-notes/souzou/internal/client/models"
)

func (a *App) runREPL(ctx context.Context) {
	runREPL(ctx, a, func() (string, bool) {
		line, err := a.reader.ReadString('\n')
		if err != nil {
			return "", false
		}
		return line, true
	})
}

func (a *App) Add(ctx context.Context, parentID string) error {
	title, err := GetSimpleText(a.reader, "Title", os.Stdout)
	if err != nil {
		return err
	}
	content, err := GetSimpleText(a.reader, "Content", os.Stdout)
	if err != nil {
		return err
	}

	e, err := a.notes.Create(ctx, models.EntityTypeNote, title, content, parentID)
	if err != nil {
		return err
	}
	fmt.Println("created", e.ID)
	return nil
}

func (a *App) List(ctx context.Context) error {
	all, err := a.notes.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range all {
		fmt.Printf("%s  [%s]  %s\n", e.ID, e.Type, e.Title)
	}
	return nil
}

func (a *App) Tree(ctx context.Context) error {
	return a.printChildren(ctx, "", 0)
}

func (a *App) printChildren(ctx context.Context, parentID string, depth int) error {
	children, err := a.notes.Children(ctx, parentID)
	if err != nil {
		return err
	}
	for _, e := range children {
		fmt.Printf("%s%s  %s\n", strings.Repeat("  ", depth), e.Title, e.ID)
		if err := a.printChildren(ctx, e.ID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Show(ctx context.Context, id string) error {
	e, err := a.notes.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\ntype:    %s\ntitle:   %s\nparent:  %s\nrev:     %d\n\n%s\n",
		e.ID, e.Type, e.Title, e.ParentID, e.Rev, e.Content)
	return nil
}

func (a *App) Edit(ctx context.Context, id string) error {
	e, err := a.notes.Get(ctx, id)
	if err != nil {
		return err
	}

	title, err := GetSimpleText(a.reader, fmt.Sprintf("Title [%s]", e.Title), os.Stdout)
	if err != nil {
		return err
	}
	if title == "" {
		title = e.Title
	}
	content, err := GetSimpleText(a.reader, "Content (empty keeps current)", os.Stdout)
	if err != nil {
		return err
	}
	if content == "" {
		content = e.Content
	}

	return a.notes.Update(ctx, id, title, content, e.ParentID)
}

func (a *App) Remove(ctx context.Context, id string) error {
	return a.notes.Delete(ctx, id)
}

func (a *App) Attach(ctx context.Context, path, parentID string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	e, err := a.media.Upload(ctx, filepath.Base(path), parentID, blob)
	if err != nil {
		return err
	}
	fmt.Println("uploaded", e.ID)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	res, err := a.manager.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("done: %d pulled, %d pushed\n", res.Pulled, res.Pushed)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	checkpoint, err := a.store.Metadata.Checkpoint(ctx)
	if err != nil {
		return err
	}
	pending, err := a.store.Journal.Pending(ctx)
	if err != nil {
		return err
	}
	deviceID, err := a.store.DeviceID(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("device:     %s\nstate:      %s\ncheckpoint: %d\npending:    %d\n",
		deviceID, a.manager.State(), checkpoint, len(pending))
	return nil
}
