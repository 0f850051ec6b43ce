package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"repplus/internal/rawhttp"
	"repplus/pkg/traffic"
)

var (
	codecFile string
	codecCRLF bool
)

var codecCmd = &cobra.Command{
	Use:   "codec",
	Short: "Convert between raw HTTP text and JSON",
}

var codecDecodeCmd = &cobra.Command{
	Use:   "decode [-r request.txt]",
	Short: "Parse a raw request into JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(codecFile)
		if err != nil {
			return err
		}
		req, err := rawhttp.Decode(raw)
		if err != nil {
			return err
		}

		out := []byte(`{}`)
		set := func(path string, v any) {
			if err == nil {
				out, err = sjson.SetBytes(out, path, v)
			}
		}
		set("method", req.Method)
		set("url", req.URL)
		set("proto", req.Proto)
		set("headers", []any{})
		for i, f := range req.Headers {
			set(fmt.Sprintf("headers.%d.name", i), f.Name)
			set(fmt.Sprintf("headers.%d.value", i), f.Value)
		}
		set("body", string(req.Body))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	},
}

var codecEncodeCmd = &cobra.Command{
	Use:   "encode [-r request.json]",
	Short: "Build raw request text from JSON {method,url,headers,body}",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(codecFile)
		if err != nil {
			return err
		}
		if !gjson.Valid(data) {
			return errors.New("input is not valid JSON")
		}
		doc := gjson.Parse(data)
		method := doc.Get("method").String()
		if method == "" {
			method = "GET"
		}

		// headers 既可以是 [{name,value}] 数组也可以是对象
		var headers traffic.Header
		h := doc.Get("headers")
		if h.IsArray() {
			h.ForEach(func(_, v gjson.Result) bool {
				headers.Add(v.Get("name").String(), v.Get("value").String())
				return true
			})
		} else if h.IsObject() {
			h.ForEach(func(k, v gjson.Result) bool {
				headers.Add(k.String(), v.String())
				return true
			})
		}

		var opts []rawhttp.Option
		if codecCRLF {
			opts = append(opts, rawhttp.WithLineEnding(rawhttp.CRLF))
		}
		raw, err := rawhttp.Encode(method, doc.Get("url").String(), headers, []byte(doc.Get("body").String()), opts...)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, raw)
		return err
	},
}

func init() {
	codecCmd.PersistentFlags().StringVarP(&codecFile, "file", "r", "", "Input file (default stdin)")
	codecEncodeCmd.Flags().BoolVar(&codecCRLF, "crlf", false, "Use CRLF line endings")
	codecCmd.AddCommand(codecDecodeCmd, codecEncodeCmd)
}
