package chat

import "testing"

func TestParseCommandJoin(t *testing.T) {
	cmd, err := ParseCommand("/j general")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Kind != CommandJoin || cmd.Channel != "#general" {
		t.Fatalf("got %+v", cmd)
	}

	cmd2, err := ParseCommand("/j #random")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd2.Channel != "#random" {
		t.Fatalf("got %+v", cmd2)
	}
}

func TestParseCommandMsg(t *testing.T) {
	cmd, err := ParseCommand("/msg bob hello there friend")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if cmd.Kind != CommandMessage || cmd.Target != "bob" || cmd.Text != "hello there friend" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestParseCommandMissingArgument(t *testing.T) {
	if _, err := ParseCommand("/j"); err != ErrMissingArgument {
		t.Fatalf("expected ErrMissingArgument, got %v", err)
	}
}

func TestParseCommandUnknown(t *testing.T) {
	if _, err := ParseCommand("/bogus"); err != ErrUnknownCommand {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestParseCommandNotACommand(t *testing.T) {
	if _, err := ParseCommand("just chatting"); err != ErrNotACommand {
		t.Fatalf("expected ErrNotACommand, got %v", err)
	}
}

func TestParseCommandBlockUnblockFav(t *testing.T) {
	block, err := ParseCommand("/block bob")
	if err != nil || block.Kind != CommandBlock || block.Target != "bob" {
		t.Fatalf("got %+v, err %v", block, err)
	}
	unblock, err := ParseCommand("/unblock bob")
	if err != nil || unblock.Kind != CommandUnblock || unblock.Target != "bob" {
		t.Fatalf("got %+v, err %v", unblock, err)
	}
	fav, err := ParseCommand("/fav bob")
	if err != nil || fav.Kind != CommandFavorite || fav.Target != "bob" {
		t.Fatalf("got %+v, err %v", fav, err)
	}
	who, err := ParseCommand("/who")
	if err != nil || who.Kind != CommandWho {
		t.Fatalf("got %+v, err %v", who, err)
	}
}
