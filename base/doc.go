/*

Package base provides base data structures and functions for lightrec.

The base data structures and functions include:

* Random Generator

* CSV Reading and Escaping

* Numeric Computing

*/
package base
