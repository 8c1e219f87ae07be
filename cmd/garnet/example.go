package main

import (
	"fmt"

	"github.com/chazu/garnet/vm"
	"github.com/chazu/garnet/vm/iseqfile"
	"github.com/spf13/cobra"
)

var exampleCmd = &cobra.Command{
	Use:   "example [output.gbc]",
	Short: "Write a small example program",
	Long: `Write a compiled example program exercising classes, attribute
methods, optional arguments, blocks and closures. Run it with 'garnet run'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := "example.gbc"
		if len(args) == 1 {
			out = args[0]
		}
		v := vm.NewVM()
		iseq, err := buildExample(v)
		if err != nil {
			return err
		}
		if err := iseqfile.WriteFile(v, out, iseq); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

// buildExample assembles:
//
//	class Point
//	  attr_reader :x, :y
//	  def initialize(x, y = 0)
//	    @x = x
//	    @y = y
//	  end
//	  def +(other) = Point.new(@x + other.x, @y + other.y)
//	  def to_s = "(" + @x.to_s + ", " + @y.to_s + ")"
//	end
//
//	pt = Point.new(1, 2) + Point.new(3)
//	puts pt
//	sum = 0
//	[1, 2, 3].each { |n| sum = sum + n }
//	puts sum
func buildExample(v *vm.VM) (*vm.ISeq, error) {
	initMethod, err := v.NewAssembler("initialize", vm.ISeqMethod).
		Params(vm.Params{Lead: 1, Opt: []vm.Default{vm.Const(vm.FromInt(0))}}, "x", "y").
		GetLocal(0, 0).SetIvar("@x").
		GetLocal(1, 0).SetIvar("@y").
		PutNil().Leave().
		Build()
	if err != nil {
		return nil, err
	}

	plus, err := v.NewAssembler("+", vm.ISeqMethod).
		Params(vm.Params{Lead: 1}, "other").
		GetConst("Point").
		GetIvar("@x").GetLocal(0, 0).Send("x", 0, 0, nil).OptPlus().
		GetIvar("@y").GetLocal(0, 0).Send("y", 0, 0, nil).OptPlus().
		Send("new", 2, 0, nil).
		Leave().
		Build()
	if err != nil {
		return nil, err
	}

	toS, err := v.NewAssembler("to_s", vm.ISeqMethod).
		PutString("(").
		GetIvar("@x").Send("to_s", 0, 0, nil).Send("+", 1, 0, nil).
		PutString(", ").Send("+", 1, 0, nil).
		GetIvar("@y").Send("to_s", 0, 0, nil).Send("+", 1, 0, nil).
		PutString(")").Send("+", 1, 0, nil).
		Leave().
		Build()
	if err != nil {
		return nil, err
	}

	body, err := v.NewAssembler("<class:Point>", vm.ISeqClass).
		PutSelf().PutSymbol("x").PutSymbol("y").Send("attr_reader", 2, vm.FlagFCall, nil).Pop().
		DefineMethod("initialize", initMethod).Pop().
		DefineMethod("+", plus).Pop().
		DefineMethod("to_s", toS).
		Leave().
		Build()
	if err != nil {
		return nil, err
	}

	a := v.NewAssembler("<main>", vm.ISeqTop)
	pt := a.Local("pt")
	sum := a.Local("sum")

	block, err := v.NewAssembler("block in <main>", vm.ISeqBlock).
		Params(vm.Params{Lead: 1, Ambiguous: true}, "n").
		GetLocal(sum, 1).GetLocal(0, 0).OptPlus().
		Dup().SetLocal(sum, 1).
		Leave().
		Build()
	if err != nil {
		return nil, err
	}

	return a.
		DefineClass("Point", body, 0).Pop().
		GetConst("Point").PutInt(1).PutInt(2).Send("new", 2, 0, nil).
		GetConst("Point").PutInt(3).Send("new", 1, 0, nil).
		Send("+", 1, 0, nil).
		SetLocal(pt, 0).
		PutSelf().GetLocal(pt, 0).Send("puts", 1, vm.FlagFCall, nil).Pop().
		PutInt(0).SetLocal(sum, 0).
		PutInt(1).PutInt(2).PutInt(3).NewArray(3).Send("each", 0, 0, block).Pop().
		PutSelf().GetLocal(sum, 0).Send("puts", 1, vm.FlagFCall, nil).
		Leave().
		Build()
}
